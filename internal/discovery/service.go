package discovery

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go2tv.app/go2tv/v2/devices"

	"go2tv.app/tvlink/internal/adapters"
	"go2tv.app/tvlink/internal/domain"
)

const (
	DefaultTimeout               = 2500 * time.Millisecond
	reachabilityWait             = 400 * time.Millisecond
	defaultDiscoveryDelaySeconds = 1
	maxPerAttemptTimeout         = 3 * time.Second
)

var isReachableAddress = defaultReachableAddress

// Service lists render targets found through go2tv discovery.
type Service struct {
	adapter adapters.Discovery
	loopCtx context.Context
	once    sync.Once
}

func NewService(adapter adapters.Discovery, loopCtx context.Context) *Service {
	if loopCtx == nil {
		loopCtx = context.Background()
	}
	return &Service{
		adapter: adapter,
		loopCtx: loopCtx,
	}
}

// ListRenderTargets returns the devices seen within timeout. An empty result
// is not an error.
func (s *Service) ListRenderTargets(ctx context.Context, timeout time.Duration, includeUnreachable bool) ([]domain.RenderTarget, error) {
	if s.adapter == nil {
		return nil, errors.New("discovery adapter is not configured")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	s.once.Do(func() {
		s.adapter.StartChromecastDiscoveryLoop(s.loopCtx)
	})

	type result struct {
		devices []devices.Device
		err     error
	}
	resultCh := make(chan result, 1)
	go func() {
		loaded, err := s.loadUntil(ctx, time.Now().Add(timeout))
		resultCh <- result{devices: loaded, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return []domain.RenderTarget{}, nil
	case res := <-resultCh:
		if res.err != nil {
			if errors.Is(res.err, devices.ErrNoDeviceAvailable) {
				return []domain.RenderTarget{}, nil
			}
			return nil, res.err
		}
		targets := normalizeDevices(res.devices)
		if !includeUnreachable {
			targets = filterReachable(targets)
		}
		sortTargets(targets)
		return targets, nil
	}
}

func (s *Service) loadUntil(ctx context.Context, deadline time.Time) ([]devices.Device, error) {
	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if lastErr == nil || errors.Is(lastErr, devices.ErrNoDeviceAvailable) {
				return []devices.Device{}, nil
			}
			return nil, lastErr
		}
		if remaining > maxPerAttemptTimeout {
			remaining = maxPerAttemptTimeout
		}

		loaded, err := s.adapter.LoadAllDevices(delaySeconds(remaining))
		if err == nil {
			return loaded, nil
		}
		if !errors.Is(err, devices.ErrNoDeviceAvailable) {
			return nil, err
		}
		lastErr = err
	}
}

// MatchTarget picks a target by exact id, then exact name, then a
// case-insensitive id or name, ignoring a trailing " (model)" suffix.
func MatchTarget(targets []domain.RenderTarget, query string) *domain.RenderTarget {
	query = strings.TrimSpace(query)
	normalizedQuery := normalizeTargetName(query)

	for i := range targets {
		if strings.TrimSpace(targets[i].ID) == query {
			return &targets[i]
		}
	}
	for i := range targets {
		if strings.TrimSpace(targets[i].Name) == query {
			return &targets[i]
		}
	}
	for i := range targets {
		if strings.EqualFold(strings.TrimSpace(targets[i].ID), query) ||
			strings.EqualFold(strings.TrimSpace(targets[i].Name), query) ||
			normalizeTargetName(targets[i].Name) == normalizedQuery {
			return &targets[i]
		}
	}
	return nil
}

func normalizeTargetName(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if idx := strings.LastIndex(normalized, " ("); idx > 0 && strings.HasSuffix(normalized, ")") {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	return normalized
}

func delaySeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds <= 0 {
		return defaultDiscoveryDelaySeconds
	}
	return seconds
}

func normalizeDevices(discovered []devices.Device) []domain.RenderTarget {
	out := make([]domain.RenderTarget, 0, len(discovered))
	for _, raw := range discovered {
		protocol := normalizeProtocol(raw.Type)
		address := strings.TrimSpace(raw.Addr)

		target := domain.RenderTarget{
			ID:          stableID(protocol, address),
			Name:        strings.TrimSpace(raw.Name),
			Type:        strings.TrimSpace(raw.Type),
			Address:     address,
			IsAudioOnly: raw.IsAudioOnly,
			Protocol:    protocol,
			Supported:   protocol == domain.ProtocolChromecast,
		}
		switch {
		case protocol == domain.ProtocolDLNA:
			target.Reason = "DLNA renderers cannot play HLS streams"
		case !target.Supported:
			target.Reason = fmt.Sprintf("unsupported protocol %q", raw.Type)
		}
		out = append(out, target)
	}
	return out
}

func filterReachable(all []domain.RenderTarget) []domain.RenderTarget {
	filtered := make([]domain.RenderTarget, 0, len(all))
	for _, target := range all {
		if isReachableAddress(target.Address, reachabilityWait) {
			filtered = append(filtered, target)
		}
	}
	return filtered
}

// sortTargets puts supported targets first, then orders by name and address.
func sortTargets(all []domain.RenderTarget) {
	sort.Slice(all, func(i, j int) bool {
		if all[i].Supported != all[j].Supported {
			return all[i].Supported
		}
		if a, b := strings.ToLower(all[i].Name), strings.ToLower(all[j].Name); a != b {
			return a < b
		}
		if a, b := strings.ToLower(all[i].Address), strings.ToLower(all[j].Address); a != b {
			return a < b
		}
		return all[i].ID < all[j].ID
	})
}

func stableID(protocol, address string) string {
	canonical := fmt.Sprintf("%s|%s", protocol, canonicalAddress(address))
	sum := sha1.Sum([]byte(canonical))
	return "dev_" + hex.EncodeToString(sum[:8])
}

func canonicalAddress(address string) string {
	parsed, err := url.Parse(address)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(address))
	}

	host := strings.ToLower(parsed.Hostname())
	port := parsed.Port()
	if port == "" {
		port = defaultPort(parsed.Scheme)
	}
	path := strings.TrimSpace(strings.ToLower(parsed.EscapedPath()))
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s://%s:%s%s", strings.ToLower(parsed.Scheme), host, port, path)
}

func normalizeProtocol(kind string) string {
	lower := strings.ToLower(strings.TrimSpace(kind))
	switch {
	case strings.Contains(lower, "chrome"):
		return domain.ProtocolChromecast
	case strings.Contains(lower, "dlna"):
		return domain.ProtocolDLNA
	default:
		return lower
	}
}

func defaultPort(scheme string) string {
	if strings.EqualFold(scheme, "https") {
		return "443"
	}
	return "80"
}

func defaultReachableAddress(address string, timeout time.Duration) bool {
	parsed, err := url.Parse(address)
	if err != nil || parsed.Host == "" {
		return false
	}
	hostPort := parsed.Host
	if parsed.Port() == "" {
		hostPort = net.JoinHostPort(parsed.Hostname(), defaultPort(parsed.Scheme))
	}

	conn, err := net.DialTimeout("tcp", hostPort, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
