package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go2tv.app/tvlink/internal/protocol"
)

type fakeHandle struct {
	mu      sync.Mutex
	sent    []protocol.Message
	sendErr error
	closed  bool
}

func (f *fakeHandle) Send(msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := New()
	h := &fakeHandle{}
	r.Add("c1", h)

	got, ok := r.Get("c1")
	if !ok || got != h {
		t.Fatalf("expected handle for c1")
	}
	r.Remove("c1")
	r.Remove("c1")
	r.Remove("never-added")
	if _, ok := r.Get("c1"); ok {
		t.Fatal("expected c1 to be removed")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistryConcurrentAddRemove(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Add(id, &fakeHandle{})
			if i%2 == 0 {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()
	if r.Len() != 32 {
		t.Fatalf("expected 32 connections, got %d", r.Len())
	}
}

func TestRegistryBroadcastReportsFailures(t *testing.T) {
	r := New()
	ok := &fakeHandle{}
	bad := &fakeHandle{sendErr: errors.New("broken pipe")}
	r.Add("ok", ok)
	r.Add("bad", bad)

	var failed []string
	sent := r.Broadcast(protocol.NewMessage("tv", protocol.HeartbeatPayload{Status: protocol.StatusAlive}), func(id string, err error) {
		failed = append(failed, id)
	})
	if sent != 1 || len(failed) != 1 || failed[0] != "bad" {
		t.Fatalf("unexpected broadcast result sent=%d failed=%v", sent, failed)
	}
	if len(ok.sent) != 1 {
		t.Fatalf("expected one message on ok handle, got %d", len(ok.sent))
	}
}

func TestRegistryForEachAllowsRemoval(t *testing.T) {
	r := New()
	r.Add("a", &fakeHandle{})
	r.Add("b", &fakeHandle{})
	r.ForEach(func(rec Record) {
		r.Remove(rec.ConnectionID)
	})
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestPeerHistoryOrderingAndEviction(t *testing.T) {
	h, err := NewPeerHistory(2)
	if err != nil {
		t.Fatalf("new history: %v", err)
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h.Opened("10.0.0.1", base)
	h.Seen("10.0.0.1", "phone-a", base)
	h.Opened("10.0.0.2", base.Add(time.Second))
	h.Closed("10.0.0.1", base.Add(2*time.Second))
	h.Opened("10.0.0.3", base.Add(3*time.Second))

	recent := h.Recent()
	if len(recent) != 2 {
		t.Fatalf("expected 2 peers, got %d", len(recent))
	}
	if recent[0].RemoteAddr != "10.0.0.3" || recent[1].RemoteAddr != "10.0.0.1" {
		t.Fatalf("unexpected order: %+v", recent)
	}
	if recent[1].DeviceID != "phone-a" || recent[1].Connected {
		t.Fatalf("expected remembered device id and disconnected flag: %+v", recent[1])
	}
}

func TestPeerHistoryCountsConnectionsPerHost(t *testing.T) {
	h, err := NewPeerHistory(4)
	if err != nil {
		t.Fatalf("new history: %v", err)
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h.Opened("10.0.0.1", base)
	h.Opened("10.0.0.1", base.Add(time.Second))
	h.Closed("10.0.0.1", base.Add(2*time.Second))

	recent := h.Recent()
	if len(recent) != 1 || !recent[0].Connected || recent[0].Connections != 1 {
		t.Fatalf("expected host to stay connected with one open connection: %+v", recent)
	}

	h.Closed("10.0.0.1", base.Add(3*time.Second))
	h.Closed("10.0.0.1", base.Add(4*time.Second))
	if p := h.Recent()[0]; p.Connected || p.Connections != 0 {
		t.Fatalf("expected host to be disconnected: %+v", p)
	}
}

func TestPeerHistoryConcurrentConnections(t *testing.T) {
	h, err := NewPeerHistory(4)
	if err != nil {
		t.Fatalf("new history: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Opened("10.0.0.9", time.Now())
		}()
	}
	wg.Wait()
	if p := h.Recent()[0]; p.Connections != 32 {
		t.Fatalf("expected 32 open connections, got %d", p.Connections)
	}
}
