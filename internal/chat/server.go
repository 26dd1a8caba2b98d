// Package chat implements the WebSocket chat relay: the per-connection
// protocol state machine, the message admission and publish pipelines,
// and the role-gated command interpreter.
//
// The server is a single event loop. Frames read off sockets and
// completions of outbound HTTP requests are posted to the loop as
// closures; all state (registry, command table, timers, the SQL handle)
// is touched only from Run's goroutine.
package chat

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kcstream/kcchat/internal/auth"
	"github.com/kcstream/kcchat/internal/config"
	"github.com/kcstream/kcchat/internal/metrics"
	"github.com/kcstream/kcchat/internal/overlay"
	"github.com/kcstream/kcchat/internal/paypal"
	"github.com/kcstream/kcchat/internal/store"
)

// Auth levels, aliased from the storage layer.
const (
	levelUser   = store.LevelUser
	levelMember = store.LevelMember
	levelMod    = store.LevelMod
	levelAdmin  = store.LevelAdmin
)

// Client-visible status strings.
const (
	statusUnauthenticated = "unauthenticated"
	statusAuthenticated   = "authenticated"
	statusBanned          = "banned"
	statusRename          = "rename"
	statusNameExists      = "nameexists"
	statusNameTimeout     = "nametimeout"
	statusNameInvalid     = "nameinvalid"
	statusNameLength      = "namelength"
	statusConfigSaved     = "setuserconf"
)

// Moderation defaults, in seconds. Slow mode starts disabled; the rest
// are adjustable at runtime through commands.
const (
	defaultSlowMode          = 0
	defaultDuplicateSlowMode = 30
	defaultFollowMode        = 600
	renameCooldown           = 2592000 // 30 days
	historyLength            = 50
)

// Options wires the server's collaborators.
type Options struct {
	Config  *config.Config
	Store   *store.Store
	PayPal  *paypal.Client
	Overlay func(overlay.Message)
	Version string
}

// Server is the chat relay core.
type Server struct {
	store   *store.Store
	paypal  *paypal.Client
	overlay func(overlay.Message)

	botName       string
	botColor      string
	maxChatLength int
	version       string

	providers *auth.Registry
	clients   *registry
	commands  *commandRegistry

	simpleResponses map[string]string
	timers          map[string]int64

	slowMode          int64
	duplicateSlowMode int64
	followMode        int64
	renameCooldown    int64

	tasks chan func()
	// done is closed when Run exits; post drops tasks after that.
	done chan struct{}

	// Injection points for tests.
	now   func() time.Time
	randn func(int) int
}

// New builds the chat server. Call LoadResponses before Run to register
// the stored simple-response commands.
func New(opts Options) *Server {
	s := &Server{
		store:   opts.Store,
		paypal:  opts.PayPal,
		overlay: opts.Overlay,

		botName:       opts.Config.String("bot_name"),
		botColor:      opts.Config.String("bot_color"),
		maxChatLength: opts.Config.Int("max_chat_length"),
		version:       opts.Version,

		clients:  newRegistry(),
		commands: newCommandRegistry(),

		simpleResponses: make(map[string]string),
		timers:          make(map[string]int64),

		slowMode:          defaultSlowMode,
		duplicateSlowMode: defaultDuplicateSlowMode,
		followMode:        defaultFollowMode,
		renameCooldown:    renameCooldown,

		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
		now:   time.Now,
		randn: rand.Intn,
	}

	if s.version == "" {
		s.version = "0.1"
	}

	s.providers = auth.NewRegistry(
		auth.NewGoogle(opts.Store, opts.Config.String("youtube_client_id"), s.post),
	)

	s.initCommands()
	return s
}

// LoadResponses registers the simple-response commands stored in the
// database.
func (s *Server) LoadResponses() error {
	responses, err := s.store.Responses()
	if err != nil {
		return err
	}
	for command, response := range responses {
		s.insertSimpleResponse(command, response)
		log.Debug().Str("command", command).Msg("Loaded simple response")
	}
	return nil
}

// Run is the chat loop. All frame handling, SQL access, and registry
// mutation happens here. It returns when ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case task := <-s.tasks:
			task()
		case <-ctx.Done():
			return
		}
	}
}

// post schedules a closure onto the chat loop. Safe to call from any
// goroutine. Once the loop has exited the task is dropped, so read
// pumps and HTTP continuations can never hang on a stopped server.
func (s *Server) post(task func()) {
	select {
	case s.tasks <- task:
	case <-s.done:
	}
}

// Console dispatches a line typed on the server console as an
// authorless ADMIN command. Private responses print to stdout.
func (s *Server) Console(line string) {
	s.post(func() {
		s.reply(s.dispatchCommand(ConsoleRequest(line)))
	})
}

// HandleWebSocket upgrades a chat client connection and starts its
// pumps. The connection stays an observer until it authenticates.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade chat connection")
		return
	}

	conn := newConn(sock, peerHost(r.RemoteAddr))
	metrics.ConnectionsActive.Inc()
	log.Debug().Str("conn", conn.id).Str("host", conn.host).Msg("Chat client connected")

	go conn.writePump()
	go conn.readPump(s)
}

// disconnect runs on the loop when a connection's read pump exits.
func (s *Server) disconnect(conn *Conn) {
	s.removeSocket(conn)
}

// frame is a decoded client packet.
type frame struct {
	Type  string          `json:"type"`
	Token string          `json:"token"`
	Auth  string          `json:"auth"`
	Data  json.RawMessage `json:"data"`
}

var knownFrameTypes = map[string]bool{
	"hello":       true,
	"status":      true,
	"getuserconf": true,
	"setuserconf": true,
	"message":     true,
	"paypal":      true,
}

// frameTypeLabel buckets the client-supplied frame type for metrics.
// The type string is untrusted input and must not mint label values.
func frameTypeLabel(frameType string) string {
	if knownFrameTypes[frameType] {
		return frameType
	}
	return "unknown"
}

// handleFrame is the admission pipeline: rate limit, host ban, token
// presence, provider authentication, then dispatch. Runs on the loop.
func (s *Server) handleFrame(conn *Conn, raw []byte) {
	// Rate limiting happens before anything else; discarded frames get
	// no reply and are never parsed.
	if !conn.allowFrame(s.now().UnixMilli()) {
		metrics.FramesDroppedTotal.WithLabelValues("rate_limited").Inc()
		return
	}

	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Debug().Err(err).Str("conn", conn.id).Msg("Discarding malformed frame")
		return
	}
	metrics.FramesTotal.WithLabelValues(frameTypeLabel(f.Type)).Inc()

	// Hello is processed before authentication.
	if f.Type == "hello" {
		s.processHello(conn, f.Data)
		return
	}

	banned, err := s.store.IsHostBanned(conn.host, s.now().Unix())
	if err != nil {
		log.Error().Err(err).Msg("Failed to check for banned host")
		s.sendServerMessage(conn, "Internal server error")
		return
	}
	if banned {
		metrics.FramesDroppedTotal.WithLabelValues("banned_host").Inc()
		s.sendStatus(conn, statusBanned)
		return
	}

	if f.Token == "" || f.Auth == "" {
		metrics.FramesDroppedTotal.WithLabelValues("unauthenticated").Inc()
		s.sendStatus(conn, statusUnauthenticated)
		return
	}

	provider, ok := s.providers.Lookup(f.Auth)
	if !ok {
		metrics.FramesDroppedTotal.WithLabelValues("unauthenticated").Inc()
		s.sendStatus(conn, statusUnauthenticated)
		return
	}

	providerID := provider.ID()
	provider.Authenticate(f.Token,
		func(userID int64) {
			metrics.AuthTotal.WithLabelValues(providerID, "success").Inc()
			s.processAuthenticated(conn, f.Type, f.Data, userID)
		},
		func() {
			metrics.AuthTotal.WithLabelValues(providerID, "failure").Inc()
			s.sendStatus(conn, statusUnauthenticated)
		})
}

// processAuthenticated dispatches an authenticated frame by type. The
// connection is (re)registered under the resolved user first, so even
// unknown frame types establish presence.
func (s *Server) processAuthenticated(conn *Conn, frameType string, data json.RawMessage, userID int64) {
	s.insertSocket(userID, conn)

	switch frameType {
	case "status":
		s.sendUserState(conn, userID)
		s.sendAuthLevel(conn, userID)
	case "getuserconf":
		s.processGetUserConfig(conn, userID)
	case "setuserconf":
		s.processSetUserConfig(conn, userID, data)
	case "message":
		s.processChatMessage(conn, userID, data)
	case "paypal":
		s.processPayPal(conn, userID, data)
	}
}

// userState computes the status a user sees on any authenticated
// action: banned wins, then the rename requirement.
func (s *Server) userState(userID int64) string {
	u, err := s.store.UserByID(userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to look up user state")
		return statusUnauthenticated
	}
	if u.BannedUntil > s.now().Unix() {
		return statusBanned
	}
	if u.DisplayName == "" {
		return statusRename
	}
	return statusAuthenticated
}

func (s *Server) sendUserState(conn *Conn, userID int64) {
	s.sendStatus(conn, s.userState(userID))
}

func (s *Server) sendAuthLevel(conn *Conn, userID int64) {
	u, err := s.store.UserByID(userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to get auth level")
		return
	}
	conn.enqueue(authLevelPacket(u.AuthLevel))
}

// insertSocket registers conn under userID, broadcasting a join when
// this is the user's first live connection.
func (s *Server) insertSocket(userID int64, conn *Conn) {
	if !s.clients.insert(userID, conn) {
		return
	}

	u, err := s.store.UserByID(userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to look up joining user")
		return
	}
	if u.DisplayName != "" {
		s.clients.broadcast(joinPacket(u.DisplayName))
		log.Debug().Str("name", u.DisplayName).Int64("user_id", userID).Msg("Chatter joined")
	}
}

// removeSocket unregisters conn, broadcasting a part when it was the
// user's last live connection.
func (s *Server) removeSocket(conn *Conn) {
	userID := s.clients.remove(conn)
	if userID == 0 {
		return
	}

	u, err := s.store.UserByID(userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("Failed to look up parting user")
		return
	}
	if u.DisplayName != "" {
		s.clients.broadcast(partPacket(u.DisplayName))
		log.Debug().Str("name", u.DisplayName).Int64("user_id", userID).Msg("Chatter parted")
	}
}

// packet renders a server→client frame.
func packet(frameType string, data any) []byte {
	raw, err := json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}{frameType, data})
	if err != nil {
		log.Error().Err(err).Str("type", frameType).Msg("Failed to marshal packet")
		return nil
	}
	return raw
}

func statusPacket(status string) []byte {
	return packet("status", map[string]string{"status": status})
}

func serverMessagePacket(text string) []byte {
	return packet("servermsg", map[string]string{"message": text})
}

func joinPacket(name string) []byte {
	return packet("join", map[string]string{"name": name})
}

func partPacket(name string) []byte {
	return packet("part", map[string]string{"name": name})
}

func authLevelPacket(level int) []byte {
	return packet("authlevel", map[string]int{"value": level})
}

func (s *Server) sendStatus(conn *Conn, status string) {
	conn.enqueue(statusPacket(status))
}

func (s *Server) sendServerMessage(conn *Conn, text string) {
	conn.enqueue(serverMessagePacket(text))
}

// reply delivers a command response: public responses are broadcast as
// the bot with an @-mention of the requester, private ones go to every
// connection of the requester, and authorless private responses (the
// console) print to stdout.
func (s *Server) reply(r Response) {
	if !r.IsValid() {
		return
	}

	req := r.Request()
	switch {
	case r.IsPublic():
		msg := r.Message()
		if req.HasAuthor() {
			msg = "@" + req.Author() + " " + msg
		}
		s.publish(s.botName, 0, msg, s.botColor, "127.0.0.1", levelMod, "")
	case req.HasAuthor():
		for _, conn := range s.clients.connsFor(req.AuthorID()) {
			s.sendServerMessage(conn, r.Message())
		}
	default:
		printConsole(r.Message())
	}
}
