package pairing

import (
	"net"
	"sync"
	"time"

	"go2tv.app/tvlink/internal/protocol"
)

// Peer is the handler-facing view of one paired connection.
type Peer interface {
	ID() string
	RemoteAddr() string
	Send(msg protocol.Message) error
}

// Conn owns one accepted socket. Writes are serialised so replies and
// broadcasts never interleave on the wire.
type Conn struct {
	id           string
	nc           net.Conn
	remote       string
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newConn(id string, nc net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{
		id:           id,
		nc:           nc,
		remote:       nc.RemoteAddr().String(),
		writeTimeout: writeTimeout,
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RemoteAddr() string {
	return c.remote
}

func (c *Conn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return protocol.WriteFrame(c.nc, data)
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
