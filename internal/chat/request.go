package chat

import "strings"

// Request is a parsed command line together with its caller. Console
// requests carry no author and run at ADMIN level.
type Request struct {
	line     string
	args     []string
	command  string
	author   string
	authorID int64
	level    int
}

// NewRequest tokenizes line and attaches the caller's identity. The
// first token, lowercased, is the command verb.
func NewRequest(line, author string, authorID int64, level int) Request {
	args := Tokenize(line)

	r := Request{
		line:     line,
		args:     args,
		author:   author,
		authorID: authorID,
		level:    level,
	}
	if len(args) > 0 {
		r.command = strings.ToLower(args[0])
	}
	return r
}

// ConsoleRequest builds an authorless ADMIN request for lines typed on
// the server console.
func ConsoleRequest(line string) Request {
	return NewRequest(line, "", 0, levelAdmin)
}

func (r Request) Line() string    { return r.line }
func (r Request) Args() []string  { return r.args }
func (r Request) Command() string { return r.command }
func (r Request) Author() string  { return r.author }
func (r Request) AuthorID() int64 { return r.authorID }
func (r Request) Level() int      { return r.level }

// HasAuthor reports whether the request came from a named chat user
// rather than the console.
func (r Request) HasAuthor() bool { return r.author != "" }

// Response is a command handler's reply. Public responses are broadcast
// as the bot; private ones go back to the requester only. A response
// with no message is treated as "no reply".
type Response struct {
	request Request
	message string
	public  bool
}

// Reply builds a private response to r.
func Reply(r Request, message string) Response {
	return Response{request: r, message: message}
}

// PublicReply builds a response broadcast to the whole room.
func PublicReply(r Request, message string) Response {
	return Response{request: r, message: message, public: true}
}

// ErrorReply is the generic reply for storage failures. The real cause
// is logged server-side.
func ErrorReply(r Request) Response {
	return Reply(r, "Internal server error")
}

func (r Response) Request() Request { return r.request }
func (r Response) Message() string  { return r.message }
func (r Response) IsPublic() bool   { return r.public }
func (r Response) IsValid() bool    { return r.message != "" }

// Tokenize splits a command line on whitespace, keeping runs inside
// double quotes together as a single token. The surrounding quotes are
// stripped from quoted tokens.
func Tokenize(line string) []string {
	var args []string
	var current strings.Builder
	inQuotes := false
	started := false

	flush := func() {
		if started {
			args = append(args, current.String())
			current.Reset()
			started = false
		}
	}

	for _, c := range line {
		switch {
		case c == '"':
			inQuotes = !inQuotes
			started = true
		case (c == ' ' || c == '\t') && !inQuotes:
			flush()
		default:
			current.WriteRune(c)
			started = true
		}
	}
	flush()

	return args
}

// stripAtSymbols removes any leading @ characters from a display name,
// so "@alice" and "alice" address the same user.
func stripAtSymbols(name string) string {
	return strings.TrimLeft(name, "@")
}
