package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kcstream/kcchat/internal/metrics"
	"github.com/kcstream/kcchat/internal/overlay"
)

// commandHandler pairs a handler with the minimum auth level allowed to
// invoke it.
type commandHandler struct {
	fn      func(Request) Response
	minAuth int
}

// commandRegistry maps lowercase verbs to handlers. Insertion order is
// preserved because the help listing depends on it.
type commandRegistry struct {
	order    []string
	handlers map[string]commandHandler
}

func newCommandRegistry() *commandRegistry {
	return &commandRegistry{handlers: make(map[string]commandHandler)}
}

func (c *commandRegistry) insert(verb string, fn func(Request) Response, minAuth int) {
	if _, exists := c.handlers[verb]; !exists {
		c.order = append(c.order, verb)
	}
	c.handlers[verb] = commandHandler{fn: fn, minAuth: minAuth}
}

func (c *commandRegistry) remove(verb string) {
	if _, exists := c.handlers[verb]; !exists {
		return
	}
	delete(c.handlers, verb)
	for i, v := range c.order {
		if v == verb {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *commandRegistry) lookup(verb string) (commandHandler, bool) {
	h, ok := c.handlers[verb]
	return h, ok
}

func (c *commandRegistry) contains(verb string) bool {
	_, ok := c.handlers[verb]
	return ok
}

func (s *Server) initCommands() {
	s.commands.insert("addcom", s.commandAddCom, levelMod)
	s.commands.insert("alert", s.commandAlert, levelMod)
	s.commands.insert("editcom", s.commandEditCom, levelMod)
	s.commands.insert("delcom", s.commandDelCom, levelMod)
	s.commands.insert("commands", s.commandHelp, levelUser)
	s.commands.insert("help", s.commandHelp, levelUser)
	s.commands.insert("autotts", s.commandAutoTTS, levelMod)
	s.commands.insert("nexttts", s.commandNextTTS, levelMod)
	s.commands.insert("pausetts", s.commandPauseTTS, levelMod)
	s.commands.insert("purgetts", s.commandPurgeTTS, levelMod)
	s.commands.insert("say", s.commandSay, levelMod)
	s.commands.insert("skiptts", s.commandSkipTTS, levelMod)
	s.commands.insert("time", s.commandTime, levelUser)
	s.commands.insert("timer", s.commandTimer, levelUser)
	s.commands.insert("info", s.commandInfo, levelUser)
	s.commands.insert("followmode", s.commandFollowMode, levelMod)
	s.commands.insert("ban", s.commandBan, levelMod)
	s.commands.insert("unban", s.commandUnban, levelMod)
	s.commands.insert("ipban", s.commandIPBan, levelMod)
	s.commands.insert("ip", s.commandIPBan, levelMod)
	s.commands.insert("slowmode", s.commandSlowMode, levelMod)
	s.commands.insert("slow", s.commandSlowMode, levelMod)
	s.commands.insert("mod", s.commandMod, levelAdmin)
	s.commands.insert("unmod", s.commandUnmod, levelAdmin)
	s.commands.insert("delete", s.commandDelMsg, levelMod)
	s.commands.insert("del", s.commandDelMsg, levelMod)
	s.commands.insert("rm", s.commandDelMsg, levelMod)
	s.commands.insert("video", s.commandVideo, levelAdmin)
}

// dispatchCommand resolves the verb and runs the handler if the caller
// is authorized.
func (s *Server) dispatchCommand(r Request) Response {
	if r.Command() == "" {
		return Response{}
	}

	h, ok := s.commands.lookup(r.Command())
	if !ok {
		return Reply(r, fmt.Sprintf("Don't know command %q", r.Command()))
	}
	if r.Level() < h.minAuth {
		return Reply(r, "You don't have permission to use this command.")
	}

	metrics.CommandsTotal.WithLabelValues(r.Command()).Inc()
	return h.fn(r)
}

// insertSimpleResponse registers a stored response as a USER-level
// command.
func (s *Server) insertSimpleResponse(command, response string) {
	s.commands.insert(command, s.commandSimpleResponse, levelUser)
	s.simpleResponses[command] = response
}

func (s *Server) commandSimpleResponse(r Request) Response {
	return PublicReply(r, s.simpleResponses[r.Command()])
}

func (s *Server) commandAddCom(r Request) Response {
	if len(r.Args()) < 3 {
		return Reply(r, fmt.Sprintf("Usage: %s <command> <reply>", r.Command()))
	}

	newcom := strings.ToLower(r.Args()[1])
	if s.commands.contains(newcom) {
		return Reply(r, fmt.Sprintf("Command %q already exists", newcom))
	}

	response := strings.Join(r.Args()[2:], " ")
	s.insertSimpleResponse(newcom, response)

	if err := s.store.AddResponse(newcom, response); err != nil {
		log.Error().Err(err).Msg("Failed to add simple response")
	}

	return Reply(r, fmt.Sprintf("Command %q added", newcom))
}

func (s *Server) commandEditCom(r Request) Response {
	if len(r.Args()) < 3 {
		return Reply(r, fmt.Sprintf("Usage: %s <command> <reply>", r.Command()))
	}

	editcom := strings.ToLower(r.Args()[1])
	if !s.commands.contains(editcom) {
		return Reply(r, fmt.Sprintf("Command %q does not exist", editcom))
	}
	if _, isSimple := s.simpleResponses[editcom]; !isSimple {
		return Reply(r, fmt.Sprintf("Command %q cannot be edited", editcom))
	}

	response := strings.Join(r.Args()[2:], " ")
	s.simpleResponses[editcom] = response

	if err := s.store.UpdateResponse(editcom, response); err != nil {
		log.Error().Err(err).Msg("Failed to edit simple response")
	}

	return Reply(r, fmt.Sprintf("Command %q edited", editcom))
}

func (s *Server) commandDelCom(r Request) Response {
	if len(r.Args()) != 2 {
		return Reply(r, fmt.Sprintf("Usage: %s <command>", r.Command()))
	}

	delcom := strings.ToLower(r.Args()[1])
	if !s.commands.contains(delcom) {
		return Reply(r, fmt.Sprintf("Command %q does not exist", delcom))
	}
	if _, isSimple := s.simpleResponses[delcom]; !isSimple {
		return Reply(r, fmt.Sprintf("Command %q cannot be deleted", delcom))
	}

	delete(s.simpleResponses, delcom)
	s.commands.remove(delcom)

	if err := s.store.DeleteResponse(delcom); err != nil {
		log.Error().Err(err).Msg("Failed to delete simple response")
	}

	return Reply(r, fmt.Sprintf("Command %q deleted", delcom))
}

// commandHelp lists the verbs the caller may use, in registration
// order.
func (s *Server) commandHelp(r Request) Response {
	var verbs []string
	for _, verb := range s.commands.order {
		if r.Level() >= s.commands.handlers[verb].minAuth {
			verbs = append(verbs, verb)
		}
	}
	return Reply(r, "Available commands: "+strings.Join(verbs, ", "))
}

func (s *Server) commandAlert(r Request) Response {
	if len(r.Args()) != 2 && len(r.Args()) != 3 {
		return Reply(r, fmt.Sprintf("Usage: %s <title> [subtitle]", r.Command()))
	}

	subtitle := ""
	if len(r.Args()) == 3 {
		subtitle = r.Args()[2]
	}
	s.overlay(overlay.Alert(r.Args()[1], subtitle))
	return Reply(r, "Alert submitted successfully")
}

func (s *Server) commandAutoTTS(r Request) Response {
	s.overlay(overlay.Command(overlay.CmdAutoTTS))
	return Reply(r, "Auto TTS toggled")
}

func (s *Server) commandNextTTS(r Request) Response {
	s.overlay(overlay.Command(overlay.CmdNextTTS))
	return Reply(r, "Requested next TTS")
}

func (s *Server) commandPauseTTS(r Request) Response {
	s.overlay(overlay.Command(overlay.CmdPauseTTS))
	return Reply(r, "TTS paused")
}

func (s *Server) commandPurgeTTS(r Request) Response {
	s.overlay(overlay.Command(overlay.CmdPurgeTTS))
	return Reply(r, "TTS purged")
}

func (s *Server) commandSkipTTS(r Request) Response {
	s.overlay(overlay.Command(overlay.CmdSkipTTS))
	return Reply(r, "TTS skipped")
}

// commandSay broadcasts a message as the bot. The message must be one
// argument, so multi-word messages are quoted.
func (s *Server) commandSay(r Request) Response {
	if len(r.Args()) != 2 {
		return Reply(r, fmt.Sprintf("Usage: %s <message>", r.Command()))
	}
	return PublicReply(Request{}, r.Args()[1])
}

func (s *Server) commandTime(r Request) Response {
	return PublicReply(r, "The time for the streamer is: "+s.now().Format(time.ANSIC))
}

func (s *Server) commandTimer(r Request) Response {
	if len(r.Args()) == 3 {
		action := strings.ToLower(r.Args()[1])
		name := strings.ToLower(r.Args()[2])

		switch action {
		case "start":
			if _, exists := s.timers[name]; exists {
				return PublicReply(r, fmt.Sprintf("Timer %q already exists", name))
			}
			s.timers[name] = s.now().Unix()
			return PublicReply(r, fmt.Sprintf("Timer %q created", name))

		case "check", "stop":
			started, exists := s.timers[name]
			if !exists {
				return PublicReply(r, fmt.Sprintf("Timer %q does not exist", name))
			}

			elapsed := secsToHHMMSS(s.now().Unix() - started)
			startedStr := time.Unix(started, 0).Format(time.ANSIC)

			if action == "check" {
				return PublicReply(r, fmt.Sprintf("Timer %q has been running for %s (started %s)", name, elapsed, startedStr))
			}
			delete(s.timers, name)
			return PublicReply(r, fmt.Sprintf("Timer %q stopped at %s (started %s)", name, elapsed, startedStr))
		}
	}

	return PublicReply(r, fmt.Sprintf("Usage: %s <start/check/stop> <name>", r.Command()))
}

func (s *Server) commandInfo(r Request) Response {
	return Reply(r, fmt.Sprintf("Version: %s<br>Slow Mode: %d seconds<br>Duplicate Slow Mode: %d seconds<br>Follow Mode: %d seconds",
		s.version, s.slowMode, s.duplicateSlowMode, s.followMode))
}

// commandSlowMode keeps the original lenient parse: a bad value reads
// as zero, which disables slow mode.
func (s *Server) commandSlowMode(r Request) Response {
	if len(r.Args()) != 2 {
		return Reply(r, fmt.Sprintf("Usage: %s <seconds>", r.Command()))
	}

	seconds, _ := strconv.ParseInt(r.Args()[1], 10, 64)
	s.slowMode = seconds
	return Reply(r, fmt.Sprintf("Slow mode set to %d seconds", s.slowMode))
}

func (s *Server) commandFollowMode(r Request) Response {
	if len(r.Args()) != 2 {
		return Reply(r, fmt.Sprintf("Usage: %s <seconds>", r.Command()))
	}

	seconds, err := strconv.ParseInt(r.Args()[1], 10, 64)
	if err != nil {
		return Reply(r, fmt.Sprintf("Failed to parse seconds '%s'", r.Args()[1]))
	}
	s.followMode = seconds
	return Reply(r, fmt.Sprintf("Follow mode set to %d seconds", s.followMode))
}

func (s *Server) commandDelMsg(r Request) Response {
	if len(r.Args()) < 2 {
		return Reply(r, fmt.Sprintf("Usage: %s <messages-to-delete>", r.Command()))
	}

	var msgIDs []int64
	for _, arg := range r.Args()[1:] {
		if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
			msgIDs = append(msgIDs, id)
		}
	}
	s.dropMessages(msgIDs, true)
	return Reply(r, fmt.Sprintf("%d message(s) deleted", len(msgIDs)))
}

func (s *Server) commandVideo(r Request) Response {
	if len(r.Args()) < 2 {
		return Reply(r, fmt.Sprintf("Usage: %s <video-id>", r.Command()))
	}

	id := r.Args()[1]
	if err := s.store.SetConfigValue("video", id); err != nil {
		log.Error().Err(err).Msg("Failed to update video config")
	}
	return Reply(r, fmt.Sprintf("Video updated to %s successfully", id))
}

func (s *Server) commandMod(r Request) Response {
	return s.setUserAuthLevel(r, levelMod)
}

func (s *Server) commandUnmod(r Request) Response {
	return s.setUserAuthLevel(r, levelUser)
}

// setUserAuthLevel changes a user's auth level, refusing ADMIN targets,
// and pushes the new level to the target's live connections.
func (s *Server) setUserAuthLevel(r Request, level int) Response {
	if len(r.Args()) != 2 {
		return Reply(r, fmt.Sprintf("Usage: %s <username>", r.Command()))
	}

	target := stripAtSymbols(r.Args()[1])

	changed, err := s.store.SetAuthLevel(target, level)
	if err != nil {
		log.Error().Err(err).Msg("Failed to set auth level")
		return ErrorReply(r)
	}
	if !changed {
		return Reply(r, fmt.Sprintf("Failed to find user '%s'", target))
	}

	if targetID, found, err := s.store.UserIDByName(target); err == nil && found {
		for _, conn := range s.clients.connsFor(targetID) {
			conn.enqueue(authLevelPacket(level))
		}
	}

	return Reply(r, fmt.Sprintf("%s auth level set to %d successfully", target, level))
}

func (s *Server) commandUnban(r Request) Response {
	if len(r.Args()) != 2 {
		return Reply(r, fmt.Sprintf("Usage: %s <name>", r.Command()))
	}

	target := stripAtSymbols(r.Args()[1])

	changed, err := s.store.LiftBan(target)
	if err != nil {
		log.Error().Err(err).Msg("Failed to update user details for unban")
		return ErrorReply(r)
	}
	if !changed {
		return Reply(r, fmt.Sprintf("Couldn't find user %s", target))
	}

	if targetID, found, err := s.store.UserIDByName(target); err == nil && found {
		for _, conn := range s.clients.connsFor(targetID) {
			s.sendUserState(conn, targetID)
		}
	}

	return Reply(r, fmt.Sprintf("%s unbanned", target))
}

// secsToHHMMSS formats an elapsed duration as H:MM:SS with zero-padded
// fields.
func secsToHHMMSS(secs int64) string {
	hours := secs / 3600
	secs -= hours * 3600
	minutes := secs / 60
	secs -= minutes * 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}
