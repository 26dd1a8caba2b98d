package chat

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// processHello replies with a burst of recent history and the current
// roster, then registers the connection as an observer. Clients that
// reconnect pass the last message id they saw to avoid replaying it.
func (s *Server) processHello(conn *Conn, data json.RawMessage) {
	var hello struct {
		LastMessage int64 `json:"last_message"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &hello); err != nil {
			log.Debug().Err(err).Str("conn", conn.id).Msg("Ignoring malformed hello payload")
		}
	}

	msgs, err := s.store.RecentMessages(hello.LastMessage, historyLength)
	if err != nil {
		log.Error().Err(err).Msg("Failed to retrieve chat history")
	}

	// The query returns newest first; replay in chronological order.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]

		var author, color string
		var level int
		if m.UserID == 0 {
			author = s.botName
		} else {
			u, err := s.store.UserByID(m.UserID)
			if err != nil {
				log.Error().Err(err).Int64("user_id", m.UserID).Msg("Failed to resolve history author")
				continue
			}
			author = u.DisplayName
			color = u.DisplayColor
			level = u.AuthLevel
		}

		conn.enqueue(chatPacket(m.ID, m.Time, author, m.UserID, color, m.Message, level, m.DonateValue))
	}

	// Roster: the bot is always present, then every connected user
	// with a name.
	conn.enqueue(joinPacket(s.botName))
	for _, userID := range s.clients.users() {
		u, err := s.store.UserByID(userID)
		if err != nil {
			log.Error().Err(err).Int64("user_id", userID).Msg("Failed to resolve roster user")
			continue
		}
		if u.DisplayName != "" {
			conn.enqueue(joinPacket(u.DisplayName))
		}
	}

	s.insertSocket(0, conn)
}
