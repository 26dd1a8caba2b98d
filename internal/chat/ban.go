package chat

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
)

// permanentBanEnd is the banned_until value for permanent bans. It is
// the largest integer a client-side 64-bit float can hold exactly, so
// the timestamp survives JSON round-trips.
const permanentBanEnd = 9007199254740991

// parseBanTimeframe parses a ban duration in seconds, optionally with a
// trailing unit: y(ears), d(ays), h(ours), m(inutes), s(econds).
func parseBanTimeframe(timeframe string) (int64, error) {
	if secs, err := strconv.ParseInt(timeframe, 10, 64); err == nil {
		return secs, nil
	}

	if len(timeframe) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", timeframe)
	}

	unit := timeframe[len(timeframe)-1]
	secs, err := strconv.ParseInt(timeframe[:len(timeframe)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timeframe %q", timeframe)
	}

	switch unit {
	case 'y', 'Y':
		return secs * 31536000, nil
	case 'd', 'D':
		return secs * 86400, nil
	case 'h', 'H':
		return secs * 3600, nil
	case 'm', 'M':
		return secs * 60, nil
	case 's', 'S':
		return secs, nil
	default:
		return 0, fmt.Errorf("unknown unit %q", string(unit))
	}
}

func (s *Server) commandBan(r Request) Response {
	return s.ban(r, false)
}

func (s *Server) commandIPBan(r Request) Response {
	return s.ban(r, true)
}

// ban bans a user by display name, permanently when no duration is
// given. The target's messages are soft-deleted and redacted on every
// client, their live connections get a banned status, and with andIP
// each connection's peer address is host-banned for the same period.
// ADMIN users cannot be banned.
func (s *Server) ban(r Request, andIP bool) Response {
	if len(r.Args()) != 2 && len(r.Args()) != 3 {
		return Reply(r, fmt.Sprintf("Usage: %s <name> [length-of-ban]", r.Command()))
	}

	now := s.now().Unix()

	var banEnd int64
	if len(r.Args()) == 2 {
		banEnd = permanentBanEnd
	} else {
		secs, err := parseBanTimeframe(r.Args()[2])
		if err != nil {
			return Reply(r, fmt.Sprintf("Failed to parse ban timeframe: %s", r.Args()[2]))
		}
		banEnd = now + secs
	}

	target := stripAtSymbols(r.Args()[1])

	banned, err := s.store.BanUser(target, now, banEnd)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update user details for ban")
		return ErrorReply(r)
	}
	if !banned {
		return Reply(r, fmt.Sprintf("Couldn't find user %s", target))
	}

	targetID, found, err := s.store.UserIDByName(target)
	if err != nil || !found {
		log.Error().Err(err).Str("name", target).Msg("Failed to resolve banned user id")
		return ErrorReply(r)
	}

	// Redact everything the user has said. The soft-delete happens in
	// the same store call as the id selection, so the broadcast does
	// not update the database again.
	msgIDs, err := s.store.DropUserMessages(targetID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to drop messages from banned user")
	} else {
		s.dropMessages(msgIDs, false)
	}

	msg := fmt.Sprintf("%s banned until <span class='timestamp'>%d</span>", target, banEnd)

	conns := s.clients.connsFor(targetID)
	for _, conn := range conns {
		s.sendStatus(conn, statusBanned)

		if andIP {
			if err := s.store.BanHost(conn.host, now, banEnd); err != nil {
				log.Error().Err(err).Str("host", conn.host).Msg("Failed to insert IP into banned hosts")
			}
		}
	}

	if andIP {
		msg += "\n"
		if len(conns) == 0 {
			msg += "But IP address could not be determined"
		} else {
			msg += fmt.Sprintf("And %d IP(s) also banned", len(conns))
		}
	}

	return Reply(r, msg)
}
