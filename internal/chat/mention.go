package chat

import (
	"fmt"
	"strings"
)

// doMention handles chat lines that @-mention the bot: greetings get a
// greeting back, and questions addressed to the bot get a Magic 8-Ball
// answer.
func (s *Server) doMention(r Request) Response {
	if containsGreeting(r.Line()) {
		if r.Level() >= levelMember {
			return PublicReply(r, fmt.Sprintf("Hey @%s!", r.Author()))
		}
		return PublicReply(r, "I only say hello to subscribers")
	}

	lower := strings.ToLower(r.Line())
	if strings.HasPrefix(lower, "@"+strings.ToLower(s.botName)) && strings.HasSuffix(r.Line(), "?") {
		return PublicReply(r, eightBallReplies[s.randn(len(eightBallReplies))])
	}

	return Response{}
}

var helloWords = []string{
	"hello",
	"hi",
	"hey",
	"salutations",
	"greetings",
	"sup",
	"wassup",
	"whats up",
	"what's up",
}

// containsGreeting scans a line for the greeting words. Single words
// match whole words case-insensitively; multi-word phrases match as
// substrings.
func containsGreeting(line string) bool {
	words := strings.Split(line, " ")

	for _, h := range helloWords {
		if strings.Contains(h, " ") {
			if strings.Contains(line, h) {
				return true
			}
			continue
		}
		for _, w := range words {
			if strings.EqualFold(w, h) {
				return true
			}
		}
	}
	return false
}

var eightBallReplies = []string{
	"It is certain.",
	"It is decidedly so.",
	"Without a doubt.",
	"Yes definitely.",
	"You may rely on it.",
	"As I see it, yes.",
	"Most likely.",
	"Outlook good.",
	"Yes.",
	"Signs point to yes.",
	"Reply hazy, try again.",
	"Ask again later.",
	"Better not tell you now.",
	"Cannot predict now.",
	"Concentrate and ask again.",
	"Don't count on it.",
	"My reply is no.",
	"My sources say no.",
	"Outlook not so good.",
	"Very doubtful.",
}
