package chat

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/kcstream/kcchat/internal/store"
)

// processGetUserConfig replies with the user's current display name and
// color.
func (s *Server) processGetUserConfig(conn *Conn, userID int64) {
	u, err := s.store.UserByID(userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.sendStatus(conn, statusUnauthenticated)
		} else {
			log.Error().Err(err).Msg("Failed to retrieve current user config")
		}
		return
	}

	conn.enqueue(packet("getuserconf", map[string]string{
		"name":  u.DisplayName,
		"color": u.DisplayColor,
	}))
}

// processSetUserConfig updates the display color and, when changed, the
// display name. Renames are validated in order: length, charset,
// cooldown, then uniqueness (a duplicate-key error from the unique
// index).
func (s *Server) processSetUserConfig(conn *Conn, userID int64, data json.RawMessage) {
	u, err := s.store.UserByID(userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.sendStatus(conn, statusUnauthenticated)
		} else {
			log.Error().Err(err).Msg("Failed to retrieve display name change time")
		}
		return
	}

	var conf struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &conf); err != nil {
			log.Debug().Err(err).Msg("Ignoring malformed setuserconf payload")
		}
	}

	// The color is updated regardless of how the rename goes.
	if err := s.store.UpdateColor(userID, conf.Color); err != nil {
		log.Error().Err(err).Msg("Failed to update color")
	}

	newName := strings.TrimSpace(conf.Name)
	if newName != u.DisplayName {
		if n := len([]rune(newName)); n < 5 || n > 32 {
			s.sendStatus(conn, statusNameLength)
			return
		}

		if !isValidDisplayName(newName) {
			s.sendStatus(conn, statusNameInvalid)
			return
		}

		now := s.now().Unix()
		if now < u.DisplayNameChangeTime+s.renameCooldown {
			s.sendStatus(conn, statusNameTimeout)
			return
		}

		if err := s.store.Rename(userID, newName, now); err != nil {
			if store.IsDuplicate(err) {
				s.sendStatus(conn, statusNameExists)
			} else {
				log.Error().Err(err).Msg("Failed to update display name")
			}
			return
		}

		// Rename succeeded; the roster entry changes identity.
		if u.DisplayName != "" {
			s.clients.broadcast(partPacket(u.DisplayName))
		}
		s.clients.broadcast(joinPacket(newName))
	}

	s.sendStatus(conn, statusConfigSaved)
}

// isValidDisplayName allows only ASCII letters, digits, and
// underscores.
func isValidDisplayName(name string) bool {
	for _, c := range name {
		valid := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
		if !valid {
			return false
		}
	}
	return true
}
