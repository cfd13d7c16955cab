package protocol

import (
	"time"

	"github.com/google/uuid"

	"go2tv.app/tvlink/internal/domain"
)

// CommandKind is the closed set of message types understood by both peers.
type CommandKind string

const (
	KindDiscover        CommandKind = "discover"
	KindHeartbeat       CommandKind = "heartbeat"
	KindLogin           CommandKind = "login"
	KindLogout          CommandKind = "logout"
	KindPlay            CommandKind = "play"
	KindPause           CommandKind = "pause"
	KindStop            CommandKind = "stop"
	KindSeek            CommandKind = "seek"
	KindAddQueueItem    CommandKind = "add_queue_item"
	KindRemoveQueueItem CommandKind = "remove_queue_item"
	KindClearQueue      CommandKind = "clear_queue"
	KindResponse        CommandKind = "response"
)

const (
	StatusAlive   = "alive"
	StatusSuccess = "success"
	StatusError   = "error"
)

func (k CommandKind) Known() bool {
	_, ok := payloadDecoders[k]
	return ok
}

// Message is the envelope exchanged over a pairing connection. Payload's
// concrete type always matches Type.
type Message struct {
	ID        string
	Type      CommandKind
	Payload   Payload
	Timestamp time.Time
	From      string
	To        string
}

// Payload is implemented by every per-kind payload struct.
type Payload interface {
	Kind() CommandKind
}

var now = time.Now

func NewMessage(from string, payload Payload) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      payload.Kind(),
		Payload:   payload,
		Timestamp: now().UTC(),
		From:      from,
	}
}

type DiscoverPayload struct {
	domain.DeviceInfo
	IsLoggedIn bool   `json:"isLoggedIn"`
	UserID     string `json:"userId,omitempty"`
}

type HeartbeatPayload struct {
	Status     string `json:"status,omitempty"`
	IsLoggedIn *bool  `json:"isLoggedIn,omitempty"`
	UserID     string `json:"userId,omitempty"`
}

// LoginPayload carries a session token, either raw or a JSON-encoded cookie
// descriptor.
type LoginPayload struct {
	Token       string       `json:"token"`
	User        *domain.User `json:"user"`
	PairingCode string       `json:"pairingCode,omitempty"`
}

type LogoutPayload struct {
	PairingCode string `json:"pairingCode,omitempty"`
}

type PlaySource struct {
	URL       string   `json:"url"`
	Title     string   `json:"title,omitempty"`
	Live      bool     `json:"live,omitempty"`
	StartTime *float64 `json:"startTime,omitempty"`
}

type PlayPayload struct {
	Source *PlaySource `json:"source,omitempty"`
}

type PausePayload struct{}

type StopPayload struct{}

// SeekPayload holds either an absolute position or a relative delta, in seconds.
type SeekPayload struct {
	Position *float64 `json:"position,omitempty"`
	Delta    *float64 `json:"delta,omitempty"`
}

type QueueItem struct {
	ID    string `json:"id,omitempty"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Live  bool   `json:"live,omitempty"`
}

type AddQueueItemPayload struct {
	Item QueueItem `json:"item"`
}

type RemoveQueueItemPayload struct {
	ItemID string `json:"itemId"`
}

type ClearQueuePayload struct{}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ResponsePayload struct {
	OriginalMessageID string         `json:"originalMessageId"`
	Command           CommandKind    `json:"command"`
	Status            string         `json:"status"`
	Error             *ResponseError `json:"error,omitempty"`
}

func (DiscoverPayload) Kind() CommandKind        { return KindDiscover }
func (HeartbeatPayload) Kind() CommandKind       { return KindHeartbeat }
func (LoginPayload) Kind() CommandKind           { return KindLogin }
func (LogoutPayload) Kind() CommandKind          { return KindLogout }
func (PlayPayload) Kind() CommandKind            { return KindPlay }
func (PausePayload) Kind() CommandKind           { return KindPause }
func (StopPayload) Kind() CommandKind            { return KindStop }
func (SeekPayload) Kind() CommandKind            { return KindSeek }
func (AddQueueItemPayload) Kind() CommandKind    { return KindAddQueueItem }
func (RemoveQueueItemPayload) Kind() CommandKind { return KindRemoveQueueItem }
func (ClearQueuePayload) Kind() CommandKind      { return KindClearQueue }
func (ResponsePayload) Kind() CommandKind        { return KindResponse }
