package companion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"go2tv.app/tvlink/internal/domain"
	"go2tv.app/tvlink/internal/protocol"
)

const defaultDialTimeout = 5 * time.Second

var ErrClosed = errors.New("companion client closed")

type Config struct {
	// DeviceID is sent as the envelope "from"; a random id is used when empty.
	DeviceID    string
	DialTimeout time.Duration
	// Strict makes Next return decode errors instead of skipping bad frames.
	Strict bool
}

// Client is the companion side of a pairing connection.
type Client struct {
	conn     net.Conn
	reader   *protocol.FrameReader
	deviceID string
	strict   bool

	writeMu sync.Mutex
	readMu  sync.Mutex
	// discover holds the DISCOVER greeting read by Dial.
	discover protocol.DiscoverPayload
}

var dial = func(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}

// Dial connects to a pairing server and waits for its DISCOVER greeting.
func Dial(ctx context.Context, addr string, cfg Config) (*Client, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}

	conn, err := dial(ctx, addr, cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := &Client{
		conn:     conn,
		reader:   protocol.NewFrameReader(conn, protocol.DefaultMaxFrameBytes),
		deviceID: cfg.DeviceID,
		strict:   cfg.Strict,
	}

	helloCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		helloCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	first, err := c.Next(helloCtx)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("await discover: %w", err)
	}
	hello, ok := first.Payload.(protocol.DiscoverPayload)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("expected discover greeting, got %s", first.Type)
	}
	c.discover = hello
	return c, nil
}

// Device returns the identity and login state announced on connect.
func (c *Client) Device() protocol.DiscoverPayload {
	return c.discover
}

func (c *Client) DeviceID() string {
	return c.deviceID
}

// Send encodes payload in a new envelope and writes it. The message id is
// returned for correlating responses.
func (c *Client) Send(payload protocol.Payload) (string, error) {
	msg := protocol.NewMessage(c.deviceID, payload)
	if err := c.SendMessage(msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (c *Client) SendMessage(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

// SendRaw writes data as a single frame without validation.
func (c *Client) SendRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteFrame(c.conn, data)
}

// Next reads the next message. Undecodable frames are skipped unless the
// client is strict.
func (c *Client) Next(ctx context.Context) (protocol.Message, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		frame, err := c.reader.ReadFrame()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return protocol.Message{}, ctxErr
			}
			return protocol.Message{}, err
		}
		msg, err := protocol.Decode(frame)
		if err != nil {
			if c.strict {
				return protocol.Message{}, err
			}
			continue
		}
		return msg, nil
	}
}

// NextOf reads until a message of the given kind arrives, discarding others
// such as DISCOVER broadcasts.
func (c *Client) NextOf(ctx context.Context, kind protocol.CommandKind) (protocol.Message, error) {
	for {
		msg, err := c.Next(ctx)
		if err != nil {
			return protocol.Message{}, err
		}
		if msg.Type == kind {
			return msg, nil
		}
	}
}

// Heartbeat sends a HEARTBEAT and waits for the reply.
func (c *Client) Heartbeat(ctx context.Context) (protocol.HeartbeatPayload, error) {
	if _, err := c.Send(protocol.HeartbeatPayload{Status: protocol.StatusAlive}); err != nil {
		return protocol.HeartbeatPayload{}, err
	}
	msg, err := c.NextOf(ctx, protocol.KindHeartbeat)
	if err != nil {
		return protocol.HeartbeatPayload{}, err
	}
	return msg.Payload.(protocol.HeartbeatPayload), nil
}

// Request sends payload and waits for the RESPONSE correlated with it.
func (c *Client) Request(ctx context.Context, payload protocol.Payload) (protocol.ResponsePayload, error) {
	id, err := c.Send(payload)
	if err != nil {
		return protocol.ResponsePayload{}, err
	}
	for {
		msg, err := c.NextOf(ctx, protocol.KindResponse)
		if err != nil {
			return protocol.ResponsePayload{}, err
		}
		resp := msg.Payload.(protocol.ResponsePayload)
		if resp.OriginalMessageID == id {
			return resp, nil
		}
	}
}

func (c *Client) Login(ctx context.Context, token string, user domain.User, pairingCode string) (protocol.ResponsePayload, error) {
	return c.Request(ctx, protocol.LoginPayload{Token: token, User: &user, PairingCode: pairingCode})
}

func (c *Client) Logout(ctx context.Context, pairingCode string) (protocol.ResponsePayload, error) {
	return c.Request(ctx, protocol.LogoutPayload{PairingCode: pairingCode})
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// ResponseError converts an error RESPONSE into a Go error.
func ResponseError(resp protocol.ResponsePayload) error {
	if resp.Status != protocol.StatusError {
		return nil
	}
	if resp.Error == nil {
		return fmt.Errorf("%s failed", resp.Command)
	}
	return fmt.Errorf("%s failed: %s: %s", resp.Command, resp.Error.Code, resp.Error.Message)
}
