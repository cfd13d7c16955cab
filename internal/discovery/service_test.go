package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"go2tv.app/go2tv/v2/devices"

	"go2tv.app/tvlink/internal/domain"
)

type fakeAdapter struct {
	loadAllDevices func(delaySeconds int) ([]devices.Device, error)
	startLoopCalls int
}

func (f *fakeAdapter) StartChromecastDiscoveryLoop(ctx context.Context) {
	f.startLoopCalls++
}

func (f *fakeAdapter) LoadAllDevices(delaySeconds int) ([]devices.Device, error) {
	if f.loadAllDevices == nil {
		return nil, errors.New("not configured")
	}
	return f.loadAllDevices(delaySeconds)
}

func allReachable(t *testing.T) {
	t.Helper()
	orig := isReachableAddress
	t.Cleanup(func() {
		isReachableAddress = orig
	})
	isReachableAddress = func(address string, timeout time.Duration) bool {
		return true
	}
}

func TestListRenderTargets_NormalizationSortingAndStableIDs(t *testing.T) {
	allReachable(t)

	adapter := &fakeAdapter{
		loadAllDevices: func(delaySeconds int) ([]devices.Device, error) {
			return []devices.Device{
				{Name: "Kitchen Speaker (Chromecast Audio)", Addr: "http://192.168.1.30:8009", Type: "Chromecast", IsAudioOnly: true},
				{Name: "Bedroom TV", Addr: "http://192.168.1.10:1400/desc.xml", Type: "DLNA"},
				{Name: "Living Room TV", Addr: "http://192.168.1.20:8009", Type: "Chromecast"},
			}, nil
		},
	}

	svc := NewService(adapter, context.Background())

	first, err := svc.ListRenderTargets(context.Background(), 2500*time.Millisecond, true)
	if err != nil {
		t.Fatalf("list render targets: %v", err)
	}
	second, err := svc.ListRenderTargets(context.Background(), 2500*time.Millisecond, true)
	if err != nil {
		t.Fatalf("list render targets (second call): %v", err)
	}

	if len(first) != 3 {
		t.Fatalf("expected 3 targets, got %d", len(first))
	}
	if adapter.startLoopCalls != 1 {
		t.Fatalf("expected discovery loop to start once, got %d", adapter.startLoopCalls)
	}

	if first[0].Name != "Kitchen Speaker (Chromecast Audio)" || first[1].Name != "Living Room TV" {
		t.Fatalf("expected supported chromecasts first by name, got %q and %q", first[0].Name, first[1].Name)
	}
	if first[2].Protocol != domain.ProtocolDLNA {
		t.Fatalf("expected dlna target last, got %q", first[2].Protocol)
	}
	if first[2].Supported || first[2].Reason == "" {
		t.Fatalf("expected dlna to be unsupported with a reason, got %+v", first[2])
	}
	if !first[0].IsAudioOnly {
		t.Fatal("expected audio-only flag to survive normalization")
	}

	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("expected stable IDs across calls at index %d", i)
		}
		if len(first[i].ID) != len("dev_")+16 {
			t.Fatalf("unexpected id shape %q", first[i].ID)
		}
	}
}

func TestListRenderTargets_IncludeUnreachableFalseFiltersTargets(t *testing.T) {
	orig := isReachableAddress
	t.Cleanup(func() {
		isReachableAddress = orig
	})
	isReachableAddress = func(address string, timeout time.Duration) bool {
		return address == "http://192.168.1.20:8009"
	}

	adapter := &fakeAdapter{
		loadAllDevices: func(delaySeconds int) ([]devices.Device, error) {
			return []devices.Device{
				{Name: "Bedroom TV", Addr: "http://192.168.1.10:1400/desc.xml", Type: "DLNA"},
				{Name: "Living Room TV", Addr: "http://192.168.1.20:8009", Type: "Chromecast"},
			}, nil
		},
	}

	svc := NewService(adapter, context.Background())
	filtered, err := svc.ListRenderTargets(context.Background(), 2500*time.Millisecond, false)
	if err != nil {
		t.Fatalf("list render targets: %v", err)
	}

	if len(filtered) != 1 {
		t.Fatalf("expected 1 reachable target, got %d", len(filtered))
	}
	if filtered[0].Address != "http://192.168.1.20:8009" {
		t.Fatalf("unexpected kept address: %s", filtered[0].Address)
	}
}

func TestListRenderTargets_TimeoutReturnsEmptyList(t *testing.T) {
	adapter := &fakeAdapter{
		loadAllDevices: func(delaySeconds int) ([]devices.Device, error) {
			time.Sleep(120 * time.Millisecond)
			return []devices.Device{{Name: "Late Device", Addr: "http://192.168.1.50:8009", Type: "Chromecast"}}, nil
		},
	}

	svc := NewService(adapter, context.Background())
	start := time.Now()
	items, err := svc.ListRenderTargets(context.Background(), 20*time.Millisecond, true)
	if err != nil {
		t.Fatalf("list render targets: %v", err)
	}

	if len(items) != 0 {
		t.Fatalf("expected timeout to return empty list, got %d items", len(items))
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("expected timeout behavior, elapsed=%s", elapsed)
	}
}

func TestListRenderTargets_PropagatesHardErrors(t *testing.T) {
	adapter := &fakeAdapter{
		loadAllDevices: func(delaySeconds int) ([]devices.Device, error) {
			return nil, errors.New("multicast unavailable")
		},
	}

	svc := NewService(adapter, context.Background())
	if _, err := svc.ListRenderTargets(context.Background(), time.Second, true); err == nil {
		t.Fatal("expected discovery error")
	}
}

func TestListRenderTargets_WithoutAdapterFails(t *testing.T) {
	svc := NewService(nil, nil)
	if _, err := svc.ListRenderTargets(context.Background(), time.Second, true); err == nil {
		t.Fatal("expected error without adapter")
	}
}

func TestDelaySecondsUsesCeil(t *testing.T) {
	cases := []struct {
		timeout time.Duration
		want    int
	}{
		{timeout: 2500 * time.Millisecond, want: 3},
		{timeout: 2 * time.Second, want: 2},
		{timeout: time.Millisecond, want: 1},
		{timeout: 0, want: 1},
	}

	for _, tc := range cases {
		if got := delaySeconds(tc.timeout); got != tc.want {
			t.Fatalf("delaySeconds(%s) = %d, want %d", tc.timeout, got, tc.want)
		}
	}
}

func TestListRenderTargets_RetriesWithinTimeoutToCatchWarmupDevices(t *testing.T) {
	allReachable(t)

	callCount := 0
	adapter := &fakeAdapter{
		loadAllDevices: func(delaySeconds int) ([]devices.Device, error) {
			callCount++
			if callCount == 1 {
				return nil, devices.ErrNoDeviceAvailable
			}
			return []devices.Device{
				{Name: "Living Room TV", Addr: "http://192.168.1.20:8009", Type: "Chromecast"},
			}, nil
		},
	}

	svc := NewService(adapter, context.Background())
	items, err := svc.ListRenderTargets(context.Background(), 4500*time.Millisecond, true)
	if err != nil {
		t.Fatalf("list render targets: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 target, got %d", len(items))
	}
	if callCount < 2 {
		t.Fatalf("expected at least 2 discovery calls, got %d", callCount)
	}
}

func TestMatchTarget(t *testing.T) {
	targets := []domain.RenderTarget{
		{ID: "dev_aaaa", Name: "Living Room TV (Chromecast Ultra)"},
		{ID: "dev_bbbb", Name: "Bedroom"},
	}

	cases := []struct {
		query string
		want  string
	}{
		{query: "dev_bbbb", want: "dev_bbbb"},
		{query: "Bedroom", want: "dev_bbbb"},
		{query: "bedroom", want: "dev_bbbb"},
		{query: "living room tv", want: "dev_aaaa"},
		{query: "DEV_AAAA", want: "dev_aaaa"},
		{query: "Kitchen", want: ""},
	}
	for _, tc := range cases {
		got := MatchTarget(targets, tc.query)
		switch {
		case tc.want == "" && got != nil:
			t.Fatalf("MatchTarget(%q) = %q, want no match", tc.query, got.ID)
		case tc.want != "" && (got == nil || got.ID != tc.want):
			t.Fatalf("MatchTarget(%q) = %+v, want %s", tc.query, got, tc.want)
		}
	}
}
