package chat

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/kcstream/kcchat/internal/metrics"
	"github.com/kcstream/kcchat/internal/store"
)

// processChatMessage is the publish pipeline for authenticated message
// frames: per-user state checks, command and mention handling, the
// slow/duplicate/follow gates, then persistence and broadcast.
func (s *Server) processChatMessage(conn *Conn, authorID int64, data json.RawMessage) {
	info, err := s.store.UserByID(authorID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", authorID).Msg("Failed to look up message author")
		s.sendStatus(conn, statusUnauthenticated)
		return
	}

	now := s.now().Unix()

	if info.BannedUntil > now {
		s.sendStatus(conn, statusBanned)
		return
	}

	if info.DisplayName == "" {
		s.sendStatus(conn, statusRename)
		return
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return
	}
	msg := strings.TrimSpace(stripInvisible(text))
	if msg == "" {
		return
	}

	var response Response

	if strings.HasPrefix(msg, "!") || strings.HasPrefix(msg, "/") {
		// Commands require a real, named author; the console path has
		// its own entry point.
		if info.DisplayName != "" && authorID != 0 {
			r := NewRequest(msg[1:], info.DisplayName, authorID, info.AuthLevel)
			log.Debug().Str("name", info.DisplayName).Str("command", r.Command()).Msg("Command attempted")

			if r.Command() == "" {
				return
			}
			response = s.dispatchCommand(r)
		}
	} else if strings.Contains(strings.ToLower(msg), "@"+strings.ToLower(s.botName)) {
		response = s.doMention(NewRequest(msg, info.DisplayName, authorID, info.AuthLevel))
	}

	publishing := !response.IsValid() || response.IsPublic()

	if publishing && info.AuthLevel < levelMod {
		if s.slowMode > 0 {
			if wait := info.LastMessageTime + s.slowMode - now; wait > 0 {
				s.sendServerMessage(conn, fmt.Sprintf("Chat is in slow mode, please wait %d seconds to send another message.", wait))
				return
			}
		}

		if s.duplicateSlowMode > 0 && msg == info.LastMessage {
			if wait := info.LastMessageTime + s.duplicateSlowMode - now; wait > 0 {
				s.sendServerMessage(conn, fmt.Sprintf("Your identical message was sent too quickly, please wait %d seconds to send it again.", wait))
				return
			}
		}

		if s.followMode > 0 {
			if wait := info.CreatedAt + s.followMode - now; wait > 0 {
				s.sendServerMessage(conn, fmt.Sprintf("Your account must be at least %d seconds old to message here. Please wait another %d seconds.", s.followMode, wait))
				return
			}
		}
	}

	if publishing {
		if err := s.store.UpdateLastMessage(authorID, msg, now); err != nil {
			log.Error().Err(err).Msg("Failed to update last message information")
		}

		s.publish(info.DisplayName, authorID, msg, info.DisplayColor, conn.host, info.AuthLevel, "")
	}

	if response.IsValid() {
		s.reply(response)
	}

	conn.enqueue(packet("accepted", map[string]string{"message": msg}))
}

// publish persists a message and broadcasts it to every connection. A
// message matching the banned-word list is stored with dropped=1 and
// never broadcast. Empty and over-length messages are ignored.
func (s *Server) publish(author string, authorID int64, msg, color, host string, level int, donateValue string) {
	msg = strings.TrimSpace(stripInvisible(msg))
	if msg == "" || len([]rune(msg)) > s.maxChatLength {
		return
	}

	dropped := !s.isMessageAcceptable(msg)
	now := s.now().UnixMilli()

	id, err := s.store.InsertMessage(store.Message{
		UserID:      authorID,
		Time:        now,
		Message:     msg,
		Dropped:     dropped,
		Host:        host,
		DonateValue: donateValue,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to insert chat message into history")
	}

	if dropped {
		metrics.MessagesFilteredTotal.Inc()
		return
	}

	metrics.MessagesPublishedTotal.Inc()
	s.clients.broadcast(chatPacket(id, now, author, authorID, color, msg, level, donateValue))
}

// isMessageAcceptable scans the banned-word list; any case-insensitive
// substring match rejects the message. A storage failure fails closed.
func (s *Server) isMessageAcceptable(msg string) bool {
	words, err := s.store.BannedWords()
	if err != nil {
		log.Error().Err(err).Msg("Failed to look up banned word list")
		return false
	}

	lower := strings.ToLower(msg)
	for _, word := range words {
		if strings.Contains(lower, strings.ToLower(word)) {
			return false
		}
	}
	return true
}

// chatPacket renders a broadcast chat frame. The message body is
// HTML-escaped here, once, for every recipient.
func chatPacket(msgID, timeMs int64, author string, authorID int64, color, msg string, level int, donateValue string) []byte {
	return packet("chat", map[string]any{
		"id":           msgID,
		"time":         timeMs,
		"author":       author,
		"author_id":    authorID,
		"author_color": color,
		"author_level": level,
		"message":      html.EscapeString(msg),
		"auth":         level,
		"donate_value": donateValue,
	})
}

// dropMessages broadcasts a delete frame for the given message ids so
// clients redact them locally. With updateDB set it also soft-deletes
// each id; ban passes false because its SQL already dropped them.
func (s *Server) dropMessages(msgIDs []int64, updateDB bool) {
	if updateDB {
		for _, id := range msgIDs {
			if err := s.store.DropMessage(id); err != nil {
				log.Error().Err(err).Int64("message_id", id).Msg("Failed to set message to dropped")
			}
		}
	}

	if msgIDs == nil {
		msgIDs = []int64{}
	}
	s.clients.broadcast(packet("delete", map[string]any{"messages": msgIDs}))
}

// invisibleRunes are zero-width and non-printing code points replaced
// with a space before trimming, so messages can't be made to look
// empty or smuggle hidden text.
func isInvisibleRune(r rune) bool {
	switch r {
	case 0x00AD, 0x00A0, 0x0009, 0x034F, 0x061C, 0x115F, 0x1160,
		0x17B4, 0x17B5, 0x180E, 0x202F, 0x205F, 0x3000, 0x2800,
		0x3164, 0xFEFF, 0xFFA0:
		return true
	}
	return (r >= 0x2000 && r <= 0x200F) ||
		(r >= 0x2060 && r <= 0x2064) ||
		(r >= 0x206A && r <= 0x206F)
}

func stripInvisible(msg string) string {
	return strings.Map(func(r rune) rune {
		if isInvisibleRune(r) {
			return ' '
		}
		return r
	}, msg)
}

func printConsole(msg string) {
	fmt.Println(msg)
}
