package transport

import (
	"encoding/json"
	"fmt"

	"github.com/larsks/switchsync/internal/switchstate"
)

// Envelope is the on-the-wire form of a Message. State carries the small
// integer encoding from switchstate.
type Envelope struct {
	State   int8   `json:"state"`
	Origin  string `json:"origin,omitempty"`
	Kind    string `json:"kind,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// EncodeMessage serializes msg. replyTo is only set on query requests.
func EncodeMessage(msg Message, replyTo string) ([]byte, error) {
	env := Envelope{
		State:   switchstate.Encode(msg.State),
		Origin:  msg.Origin,
		Kind:    msg.Kind.String(),
		ReplyTo: replyTo,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return data, nil
}

// DecodeMessage parses a payload. Decoding never fails outright: a payload
// that cannot be parsed yields an Off command together with ErrDecode, and a
// state value other than the "on" sentinel yields Off.
func DecodeMessage(payload []byte) (Message, string, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Message{State: switchstate.Off, Kind: KindCommand}, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	msg := Message{
		State:  switchstate.Decode(env.State),
		Origin: env.Origin,
		Kind:   parseKind(env.Kind),
	}
	return msg, env.ReplyTo, nil
}

func parseKind(v string) Kind {
	if v == KindReport.String() {
		return KindReport
	}
	return KindCommand
}
