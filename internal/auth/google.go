package auth

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kcstream/kcchat/internal/store"
)

const googleTokeninfoURL = "https://oauth2.googleapis.com/tokeninfo"

// Google authenticates Google id-tokens. Verified tokens are cached in
// the database so repeat frames skip the tokeninfo round-trip; subjects
// are bound to local users on first sight.
type Google struct {
	store    *store.Store
	clientID string
	client   *http.Client

	// post schedules a closure onto the chat loop. The tokeninfo fetch
	// happens off-loop; its continuation re-enters through here.
	post func(func())

	tokeninfoURL string
}

// NewGoogle builds the Google provider. clientID is the OAuth client id
// that issued tokens must be audience-bound to.
func NewGoogle(st *store.Store, clientID string, post func(func())) *Google {
	return &Google{
		store:        st,
		clientID:     clientID,
		client:       &http.Client{Timeout: 10 * time.Second},
		post:         post,
		tokeninfoURL: googleTokeninfoURL,
	}
}

// ID implements Provider.
func (g *Google) ID() string { return "google" }

// tokenInfo is the subset of the tokeninfo response we validate. The
// endpoint returns exp as a decimal string.
type tokenInfo struct {
	Exp string `json:"exp"`
	Aud string `json:"aud"`
	Iss string `json:"iss"`
	Sub string `json:"sub"`
}

// Authenticate implements Provider. Cached tokens resolve synchronously;
// new tokens are verified against the tokeninfo endpoint off-loop.
func (g *Google) Authenticate(token string, success func(int64), failure func()) {
	now := time.Now().Unix()

	if err := g.store.PurgeExpiredTokens(now); err != nil {
		log.Error().Err(err).Msg("Failed to purge expired id-tokens")
		failure()
		return
	}

	sub, ok, err := g.store.CachedTokenSub(token)
	if err != nil {
		log.Error().Err(err).Msg("Failed to look up cached id-token")
		failure()
		return
	}
	if ok {
		g.resolveSub(sub, success, failure)
		return
	}

	go func() {
		info, err := g.fetchTokenInfo(token)
		g.post(func() {
			if err != nil {
				log.Warn().Err(err).Msg("Token verification request failed")
				failure()
				return
			}
			g.handleTokenInfo(token, info, success, failure)
		})
	}()
}

func (g *Google) fetchTokenInfo(token string) (tokenInfo, error) {
	resp, err := g.client.Get(g.tokeninfoURL + "?id_token=" + url.QueryEscape(token))
	if err != nil {
		return tokenInfo{}, err
	}
	defer resp.Body.Close()

	// Bad tokens come back as an error object with none of the claims
	// set, which fails validation below. No need to branch on status.
	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return tokenInfo{}, err
	}
	return info, nil
}

// handleTokenInfo validates the claims and, if they hold, caches the
// token and resolves the subject. Runs on the chat loop.
func (g *Google) handleTokenInfo(token string, info tokenInfo, success func(int64), failure func()) {
	exp, _ := strconv.ParseInt(info.Exp, 10, 64)
	expOK := exp > time.Now().Unix()
	audOK := info.Aud == g.clientID
	issOK := info.Iss == "https://accounts.google.com" || info.Iss == "accounts.google.com"

	if !expOK || !audOK || !issOK {
		log.Warn().Bool("exp", expOK).Bool("aud", audOK).Bool("iss", issOK).Msg("Invalid ID token")
		failure()
		return
	}

	if err := g.store.CacheToken(token, info.Sub, exp); err != nil {
		// The token still verified; only the cache insert failed.
		log.Error().Err(err).Msg("Failed to cache verified id-token")
	}

	g.resolveSub(info.Sub, success, failure)
}

// resolveSub maps a Google subject to a local user, creating the user
// and the binding on first sight.
func (g *Google) resolveSub(sub string, success func(int64), failure func()) {
	userID, ok, err := g.store.UserForSub(sub)
	if err != nil {
		log.Error().Err(err).Msg("Failed to look up user for subject")
		failure()
		return
	}

	if !ok {
		userID, err = g.store.CreateUser(time.Now().Unix())
		if err != nil {
			log.Error().Err(err).Msg("Failed to create user")
			failure()
			return
		}
		if err := g.store.BindSub(sub, userID); err != nil {
			log.Error().Err(err).Msg("Failed to bind subject to new user")
			failure()
			return
		}
		log.Info().Int64("user_id", userID).Msg("Created user for new subject")
	}

	success(userID)
}
