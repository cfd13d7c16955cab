package registry

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultHistorySize = 64

type Peer struct {
	RemoteAddr  string    `json:"remote_addr"`
	DeviceID    string    `json:"device_id,omitempty"`
	LastSeen    time.Time `json:"last_seen"`
	Connected   bool      `json:"connected"`
	Connections int       `json:"connections"`
}

// PeerHistory remembers the most recently seen peers, keyed by remote host.
// A host stays connected while any of its connections is open.
type PeerHistory struct {
	mu    sync.Mutex
	cache *lru.Cache[string, Peer]
}

func NewPeerHistory(size int) (*PeerHistory, error) {
	if size <= 0 {
		size = DefaultHistorySize
	}
	cache, err := lru.New[string, Peer](size)
	if err != nil {
		return nil, err
	}
	return &PeerHistory{cache: cache}, nil
}

// Opened records a new connection from host.
func (h *PeerHistory) Opened(host string, at time.Time) {
	h.update(host, "", 1, at)
}

// Seen records traffic from host, keeping a previously learned device id
// when deviceID is empty.
func (h *PeerHistory) Seen(host, deviceID string, at time.Time) {
	h.update(host, deviceID, 0, at)
}

// Closed records that one connection from host ended.
func (h *PeerHistory) Closed(host string, at time.Time) {
	h.update(host, "", -1, at)
}

func (h *PeerHistory) update(host, deviceID string, delta int, at time.Time) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	peer, _ := h.cache.Peek(host)
	peer.RemoteAddr = host
	if deviceID != "" {
		peer.DeviceID = deviceID
	}
	peer.LastSeen = at
	peer.Connections = max(0, peer.Connections+delta)
	peer.Connected = peer.Connections > 0
	h.cache.Add(host, peer)
}

// Recent returns the remembered peers, most recent first.
func (h *PeerHistory) Recent() []Peer {
	if h == nil {
		return []Peer{}
	}
	peers := h.cache.Values()
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].LastSeen.After(peers[j].LastSeen)
	})
	return peers
}
