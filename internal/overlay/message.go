package overlay

import "encoding/json"

// Overlay event types.
const (
	TypeAlert   = "alert"
	TypeJoke    = "joke"
	TypeCommand = "command"
)

// Command names understood by the on-screen overlay page.
const (
	CmdSkipTTS  = "skiptts"
	CmdPauseTTS = "pausetts"
	CmdPurgeTTS = "purgetts"
	CmdAutoTTS  = "autotts"
	CmdNextTTS  = "nexttts"
)

// Message is a single event for the on-screen overlay.
type Message struct {
	Type     string
	Title    string
	Subtitle string
	Name     string
}

// Alert builds an on-screen alert with a title and optional subtitle.
func Alert(title, subtitle string) Message {
	return Message{Type: TypeAlert, Title: title, Subtitle: subtitle}
}

// Joke builds a joke event naming a canned joke to play.
func Joke(name string) Message {
	return Message{Type: TypeJoke, Name: name}
}

// Command builds a control event carrying one of the Cmd* names.
func Command(name string) Message {
	return Message{Type: TypeCommand, Name: name}
}

// MarshalJSON renders the overlay wire format: an outer {type, data}
// envelope whose data fields depend on the event type.
func (m Message) MarshalJSON() ([]byte, error) {
	data := make(map[string]string)
	switch m.Type {
	case TypeAlert:
		data["title"] = m.Title
		data["subtitle"] = m.Subtitle
	case TypeJoke, TypeCommand:
		data["name"] = m.Name
	}

	return json.Marshal(struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}{m.Type, data})
}
