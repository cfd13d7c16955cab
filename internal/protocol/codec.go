package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

type DecodeErrorKind int

const (
	// Malformed means the frame is not a parseable message envelope.
	Malformed DecodeErrorKind = iota + 1
	// UnknownType means the envelope is well formed but its type is outside
	// the closed set of kinds.
	UnknownType
	// InvalidPayload means the payload does not match the shape required by
	// its declared type.
	InvalidPayload
)

func (k DecodeErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case UnknownType:
		return "unknown_type"
	case InvalidPayload:
		return "invalid_payload"
	default:
		return "unknown"
	}
}

type DecodeError struct {
	Kind      DecodeErrorKind
	Type      string
	MessageID string
	Err       error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Type != "" {
		return fmt.Sprintf("decode %s message: %s: %v", e.Type, e.Kind, e.Err)
	}
	return fmt.Sprintf("decode message: %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is a DecodeError of the given kind.
func IsDecodeError(err error, kind DecodeErrorKind) bool {
	var dErr *DecodeError
	return errors.As(err, &dErr) && dErr.Kind == kind
}

type wireMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp wireTime        `json:"timestamp"`
	From      string          `json:"from"`
	To        string          `json:"to,omitempty"`
}

// wireTime accepts RFC 3339 strings or unix milliseconds and always writes
// RFC 3339 in UTC.
type wireTime time.Time

func (t wireTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339Nano))
}

func (t *wireTime) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*t = wireTime{}
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		*t = wireTime(parsed.UTC())
		return nil
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	*t = wireTime(time.UnixMilli(int64(ms)).UTC())
	return nil
}

// Encode serialises m. It fails only when the payload does not match m.Type
// or holds a value JSON cannot represent.
func Encode(m Message) ([]byte, error) {
	if m.Payload == nil {
		return nil, fmt.Errorf("encode %s message: missing payload", m.Type)
	}
	if m.Payload.Kind() != m.Type {
		return nil, fmt.Errorf("encode %s message: payload kind %s does not match", m.Type, m.Payload.Kind())
	}
	if err := checkFinite(m.Payload); err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Type, err)
	}

	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", m.Type, err)
	}

	return json.Marshal(wireMessage{
		ID:        m.ID,
		Type:      string(m.Type),
		Payload:   payload,
		Timestamp: wireTime(m.Timestamp),
		From:      m.From,
		To:        m.To,
	})
}

// Decode parses a single frame. Unknown envelope and payload fields are
// ignored.
func Decode(data []byte) (Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, &DecodeError{Kind: Malformed, Err: errors.New("frame is not a JSON object")}
	}

	var wire wireMessage
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return Message{}, &DecodeError{Kind: Malformed, Err: err}
	}

	rawType := strings.TrimSpace(wire.Type)
	if rawType == "" {
		return Message{}, &DecodeError{Kind: Malformed, MessageID: wire.ID, Err: errors.New("missing type")}
	}
	kind := CommandKind(strings.ToLower(rawType))
	decodePayload, ok := payloadDecoders[kind]
	if !ok {
		return Message{}, &DecodeError{
			Kind:      UnknownType,
			Type:      rawType,
			MessageID: wire.ID,
			Err:       fmt.Errorf("unknown message type %q", rawType),
		}
	}

	payload, err := decodePayload(wire.Payload)
	if err != nil {
		return Message{}, &DecodeError{Kind: InvalidPayload, Type: string(kind), MessageID: wire.ID, Err: err}
	}

	return Message{
		ID:        wire.ID,
		Type:      kind,
		Payload:   payload,
		Timestamp: time.Time(wire.Timestamp),
		From:      wire.From,
		To:        wire.To,
	}, nil
}

type payloadDecoder func(raw json.RawMessage) (Payload, error)

var payloadDecoders = map[CommandKind]payloadDecoder{
	KindDiscover: decodeInto(func(p DiscoverPayload) error {
		if strings.TrimSpace(p.ID) == "" {
			return errors.New("discover payload requires id")
		}
		return nil
	}),
	KindHeartbeat: decodeInto[HeartbeatPayload](nil),
	KindLogin: decodeInto(func(p LoginPayload) error {
		if strings.TrimSpace(p.Token) == "" {
			return errors.New("login payload requires token")
		}
		return nil
	}),
	KindLogout: decodeInto[LogoutPayload](nil),
	KindPlay: decodeInto(func(p PlayPayload) error {
		if p.Source != nil && strings.TrimSpace(p.Source.URL) == "" {
			return errors.New("play source requires url")
		}
		return nil
	}),
	KindPause: decodeInto[PausePayload](nil),
	KindStop:  decodeInto[StopPayload](nil),
	KindSeek: decodeInto(func(p SeekPayload) error {
		if (p.Position == nil) == (p.Delta == nil) {
			return errors.New("seek payload requires exactly one of position or delta")
		}
		return nil
	}),
	KindAddQueueItem: decodeInto(func(p AddQueueItemPayload) error {
		if strings.TrimSpace(p.Item.URL) == "" {
			return errors.New("queue item requires url")
		}
		return nil
	}),
	KindRemoveQueueItem: decodeInto(func(p RemoveQueueItemPayload) error {
		if strings.TrimSpace(p.ItemID) == "" {
			return errors.New("remove_queue_item payload requires itemId")
		}
		return nil
	}),
	KindClearQueue: decodeInto[ClearQueuePayload](nil),
	KindResponse: decodeInto(func(p ResponsePayload) error {
		if p.Status != StatusSuccess && p.Status != StatusError {
			return fmt.Errorf("invalid response status %q", p.Status)
		}
		return nil
	}),
}

func decodeInto[T Payload](validate func(T) error) payloadDecoder {
	return func(raw json.RawMessage) (Payload, error) {
		var p T
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			if trimmed[0] != '{' {
				return nil, errors.New("payload must be a JSON object")
			}
			if err := json.Unmarshal(trimmed, &p); err != nil {
				return nil, err
			}
		}
		if validate != nil {
			if err := validate(p); err != nil {
				return nil, err
			}
		}
		return p, nil
	}
}

func checkFinite(p Payload) error {
	var values []*float64
	switch v := p.(type) {
	case SeekPayload:
		values = append(values, v.Position, v.Delta)
	case PlayPayload:
		if v.Source != nil {
			values = append(values, v.Source.StartTime)
		}
	}
	for _, f := range values {
		if f != nil && (math.IsNaN(*f) || math.IsInf(*f, 0)) {
			return fmt.Errorf("non-finite number %v", *f)
		}
	}
	return nil
}
