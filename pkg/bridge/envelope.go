package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OutboundType is the type code of an envelope sent to the remote backend.
type OutboundType int

const (
	OutChat          OutboundType = 0
	OutRosterRequest OutboundType = 1
	OutHeartbeat     OutboundType = 2
	OutGreeting      OutboundType = 6
)

// InboundType is the type code of an envelope received from the remote backend.
type InboundType int

const (
	InEcho     InboundType = 0
	InChat     InboundType = 1
	InControl  InboundType = 2
	InPresence InboundType = 3
	InBatch    InboundType = 5
	InGreeting InboundType = 6
	InNoop     InboundType = 7
)

// Sub-discriminators carried inside inbound payloads.
const (
	controlTopic = 0

	presenceJoined  = 0
	presenceLeft    = 1
	presenceRenamed = 5

	batchRoster = 1
	batchRaw    = 7
)

// Outbound is the envelope written to a remote socket.
type Outbound struct {
	Type    OutboundType `json:"Type"`
	Message string       `json:"Message"`
}

// ChatSend carries text typed by the IRC user.
func ChatSend(text string) Outbound {
	return Outbound{Type: OutChat, Message: text}
}

// NickCommand asks the backend to rename the bridging account.
func NickCommand(nick string) Outbound {
	return ChatSend("/nick " + nick)
}

// RosterRequest asks the backend for a presence snapshot.
func RosterRequest() Outbound {
	return Outbound{Type: OutRosterRequest}
}

// Heartbeat keeps an idle socket alive.
func Heartbeat() Outbound {
	return Outbound{Type: OutHeartbeat}
}

type greeting struct {
	Name  string `json:"Name"`
	Color string `json:"Color"`
}

// Greeting announces the bridging account's display name and color. The
// payload is itself a JSON document carried in Message.
func Greeting(name, color string) (Outbound, error) {
	payload, err := json.Marshal(greeting{Name: name, Color: color})
	if err != nil {
		return Outbound{}, fmt.Errorf("failed to marshal greeting: %w", err)
	}
	return Outbound{Type: OutGreeting, Message: string(payload)}, nil
}

// Inbound is one decoded remote envelope. The concrete types below are the
// only implementations; Ignored covers every type code the bridge does not act on.
type Inbound interface {
	inbound()
}

// ChatMessage is a message posted to the channel by a remote user.
type ChatMessage struct {
	From    string
	Message string
}

// TopicChange sets the channel topic.
type TopicChange struct {
	Topic string
}

// PresenceJoin reports a user entering the channel.
type PresenceJoin struct {
	User string
}

// PresenceLeave reports a user leaving the channel.
type PresenceLeave struct {
	User string
}

// PresenceRename reports a remote nickname change.
type PresenceRename struct {
	Old string
	New string
}

// RosterSnapshot is the full list of users present in the channel.
type RosterSnapshot struct {
	Users []string
}

// RawLine is forwarded to the IRC client verbatim.
type RawLine struct {
	Line string
}

// Ignored is any envelope without an IRC-side effect.
type Ignored struct {
	Type InboundType
}

func (ChatMessage) inbound()    {}
func (TopicChange) inbound()    {}
func (PresenceJoin) inbound()   {}
func (PresenceLeave) inbound()  {}
func (PresenceRename) inbound() {}
func (RosterSnapshot) inbound() {}
func (RawLine) inbound()        {}
func (Ignored) inbound()        {}

type envelope struct {
	Type InboundType     `json:"Type"`
	Data json.RawMessage `json:"Data"`
}

type chatData struct {
	From    *string `json:"From"`
	Message *string `json:"Message"`
}

type controlData struct {
	Command   *int     `json:"Command"`
	Arguments []string `json:"Arguments"`
}

type presenceData struct {
	Event *int    `json:"Event"`
	User  *string `json:"User"`
}

type batchData struct {
	Type *int            `json:"Type"`
	Data json.RawMessage `json:"Data"`
}

// DecodeInbound parses one remote envelope. Unknown type codes and
// sub-discriminators decode to Ignored; missing fields yield an error
// wrapping ErrMalformedEnvelope.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch env.Type {
	case InChat:
		var data chatData
		if err := decodeData(env, &data); err != nil {
			return nil, err
		}
		if data.From == nil || *data.From == "" || data.Message == nil {
			return nil, fmt.Errorf("%w: chat message without sender or text", ErrMalformedEnvelope)
		}
		return ChatMessage{From: *data.From, Message: *data.Message}, nil
	case InControl:
		var data controlData
		if err := decodeData(env, &data); err != nil {
			return nil, err
		}
		if data.Command == nil {
			return nil, fmt.Errorf("%w: control envelope without command", ErrMalformedEnvelope)
		}
		if *data.Command != controlTopic {
			return Ignored{Type: env.Type}, nil
		}
		if len(data.Arguments) == 0 {
			return nil, fmt.Errorf("%w: topic change without arguments", ErrMalformedEnvelope)
		}
		return TopicChange{Topic: data.Arguments[0]}, nil
	case InPresence:
		return decodePresence(env)
	case InBatch:
		return decodeBatch(env)
	default:
		return Ignored{Type: env.Type}, nil
	}
}

func decodePresence(env envelope) (Inbound, error) {
	var data presenceData
	if err := decodeData(env, &data); err != nil {
		return nil, err
	}
	if data.Event == nil || data.User == nil || *data.User == "" {
		return nil, fmt.Errorf("%w: presence event without event or user", ErrMalformedEnvelope)
	}

	switch *data.Event {
	case presenceJoined:
		return PresenceJoin{User: *data.User}, nil
	case presenceLeft:
		return PresenceLeave{User: *data.User}, nil
	case presenceRenamed:
		names := strings.SplitN(*data.User, ":", 2)
		if len(names) != 2 || names[0] == "" || names[1] == "" {
			return nil, fmt.Errorf("%w: rename %q is not old:new", ErrMalformedEnvelope, *data.User)
		}
		return PresenceRename{Old: names[0], New: names[1]}, nil
	default:
		return Ignored{Type: env.Type}, nil
	}
}

func decodeBatch(env envelope) (Inbound, error) {
	var data batchData
	if err := decodeData(env, &data); err != nil {
		return nil, err
	}
	if data.Type == nil {
		return nil, fmt.Errorf("%w: batch without type", ErrMalformedEnvelope)
	}

	switch *data.Type {
	case batchRoster:
		var users []string
		if err := json.Unmarshal(data.Data, &users); err != nil || users == nil {
			return nil, fmt.Errorf("%w: roster snapshot is not a list of names", ErrMalformedEnvelope)
		}
		return RosterSnapshot{Users: users}, nil
	case batchRaw:
		var line string
		if err := json.Unmarshal(data.Data, &line); err != nil {
			return nil, fmt.Errorf("%w: raw passthrough is not a string", ErrMalformedEnvelope)
		}
		return RawLine{Line: line}, nil
	default:
		return Ignored{Type: env.Type}, nil
	}
}

func decodeData(env envelope, v interface{}) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: type %d without data", ErrMalformedEnvelope, env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: type %d: %v", ErrMalformedEnvelope, env.Type, err)
	}
	return nil
}
