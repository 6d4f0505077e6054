package bsky

import "encoding/json"

// EventKind is the closed set of convo log event types the poll loop
// switches on. Decoding happens once at the fetch boundary; anything the
// taxonomy does not recognize becomes EventUnknown and is ignored upstream.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventBeginConvo
	EventLeaveConvo
	EventAcceptConvo
	EventMessage
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventBeginConvo:
		return "begin-convo"
	case EventLeaveConvo:
		return "leave-convo"
	case EventAcceptConvo:
		return "accept-convo"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// MessageView is the relevant slice of a chat message as delivered in the
// convo log.
type MessageView struct {
	ID        string
	Text      string
	Facets    []Facet
	SenderDID string
}

// LogEvent is one decoded convo log entry. Message is set only for
// EventMessage.
type LogEvent struct {
	Kind    EventKind
	ConvoID string
	Message *MessageView
}

// wire shapes for chat.bsky.convo.getLog entries.
type logEventWire struct {
	Type    string `json:"$type"`
	ConvoID string `json:"convoId"`
	Message *struct {
		ID     string  `json:"id"`
		Text   string  `json:"text"`
		Facets []Facet `json:"facets"`
		Sender struct {
			DID string `json:"did"`
		} `json:"sender"`
	} `json:"message"`
}

func decodeLogEvent(raw json.RawMessage) (LogEvent, error) {
	var w logEventWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return LogEvent{}, &ValidationError{Op: "getLog", Err: err}
	}
	ev := LogEvent{ConvoID: w.ConvoID}
	switch w.Type {
	case "chat.bsky.convo.defs#logBeginConvo":
		ev.Kind = EventBeginConvo
	case "chat.bsky.convo.defs#logLeaveConvo":
		ev.Kind = EventLeaveConvo
	case "chat.bsky.convo.defs#logAcceptConvo":
		ev.Kind = EventAcceptConvo
	case "chat.bsky.convo.defs#logCreateMessage":
		if w.Message == nil {
			// A create-message entry without a payload carries nothing to relay.
			ev.Kind = EventUnknown
			break
		}
		ev.Kind = EventMessage
		ev.Message = &MessageView{
			ID:        w.Message.ID,
			Text:      w.Message.Text,
			Facets:    w.Message.Facets,
			SenderDID: w.Message.Sender.DID,
		}
	default:
		ev.Kind = EventUnknown
	}
	return ev, nil
}
