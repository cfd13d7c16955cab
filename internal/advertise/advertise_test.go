package advertise

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"go2tv.app/tvlink/internal/domain"
)

type fakeRegistration struct {
	mu       sync.Mutex
	shutdown int
}

func (r *fakeRegistration) Shutdown() {
	r.mu.Lock()
	r.shutdown++
	r.mu.Unlock()
}

func (r *fakeRegistration) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shutdown
}

type fakeRegistrar struct {
	mu   sync.Mutex
	regs []*fakeRegistration
	svcs []Service
	err  error
}

func (f *fakeRegistrar) register(svc Service) (registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	reg := &fakeRegistration{}
	f.regs = append(f.regs, reg)
	f.svcs = append(f.svcs, svc)
	return reg, nil
}

func newFakeManager(t *testing.T) (*Manager, *fakeRegistrar) {
	t.Helper()
	fake := &fakeRegistrar{}
	prev := registrars[BackendZeroconf]
	registrars[BackendZeroconf] = fake.register
	t.Cleanup(func() { registrars[BackendZeroconf] = prev })

	m, err := New(Config{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, fake
}

func TestPublishAppliesDefaultsAndReplaces(t *testing.T) {
	m, fake := newFakeManager(t)
	ctx := context.Background()

	if err := m.Publish(ctx, Service{Instance: "Living Room", Port: 9999}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := fake.svcs[0]; got.Type != DefaultServiceType || got.Domain != DefaultDomain {
		t.Fatalf("defaults not applied: %+v", got)
	}

	if err := m.Publish(ctx, Service{Instance: "Living Room", Port: 10000}); err != nil {
		t.Fatalf("republish: %v", err)
	}
	if fake.regs[0].count() != 1 {
		t.Fatal("previous registration must be shut down on republish")
	}
	if got := m.Published(); len(got) != 1 {
		t.Fatalf("expected one active registration, got %v", got)
	}
}

func TestPublishValidatesInput(t *testing.T) {
	m, _ := newFakeManager(t)
	ctx := context.Background()
	if err := m.Publish(ctx, Service{Port: 9999}); err == nil {
		t.Fatal("expected error for empty instance")
	}
	if err := m.Publish(ctx, Service{Instance: "tv", Port: 0}); err == nil {
		t.Fatal("expected error for zero port")
	}
}

func TestPublishReportsBackendFailure(t *testing.T) {
	m, fake := newFakeManager(t)
	fake.err = errors.New("multicast unavailable")
	if err := m.Publish(context.Background(), Service{Instance: "tv", Port: 9999}); !errors.Is(err, fake.err) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
	if len(m.Published()) != 0 {
		t.Fatal("failed publish must not be tracked")
	}
}

func TestUnpublishAndStopAreIdempotent(t *testing.T) {
	m, fake := newFakeManager(t)
	ctx := context.Background()

	if err := m.Unpublish("never"); err != nil {
		t.Fatalf("unpublish unknown: %v", err)
	}
	_ = m.Publish(ctx, Service{Instance: "a", Port: 1})
	_ = m.Publish(ctx, Service{Instance: "b", Port: 2})
	if err := m.Unpublish("a"); err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	m.Stop()
	m.Stop()
	for i, reg := range fake.regs {
		if reg.count() != 1 {
			t.Fatalf("registration %d shut down %d times", i, reg.count())
		}
	}
	if err := m.Publish(ctx, Service{Instance: "c", Port: 3}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	if _, err := New(Config{Backend: "bonjour"}); err == nil {
		t.Fatal("expected unknown backend error")
	}
	m, err := New(Config{Backend: " MDNS "})
	if err != nil || m.Backend() != BackendMDNS {
		t.Fatalf("expected mdns backend, got %v %v", m, err)
	}
}

func TestTXTRecords(t *testing.T) {
	info := domain.DeviceInfo{ID: "abc", Platform: domain.PlatformTVOS}
	records := TXTRecords(info, []string{"video", "audio", "remote"})
	sort.Strings(records)
	want := []string{`capabilities=["video","audio","remote"]`, "id=abc", "platform=tvos"}
	if len(records) != len(want) {
		t.Fatalf("unexpected records: %v", records)
	}
	for i := range want {
		if records[i] != want[i] {
			t.Fatalf("record %d: got %q want %q", i, records[i], want[i])
		}
	}

	parsed := ParseTXT(records)
	if parsed["id"] != "abc" || parsed["platform"] != "tvos" {
		t.Fatalf("unexpected parse: %v", parsed)
	}
}

func TestStopWithoutPublish(t *testing.T) {
	m, fake := newFakeManager(t)
	m.Stop()
	m.Stop()
	if len(fake.regs) != 0 {
		t.Fatal("stop must not register anything")
	}
}
