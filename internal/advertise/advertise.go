package advertise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go2tv.app/tvlink/internal/domain"
)

const (
	BackendZeroconf = "zeroconf"
	BackendMDNS     = "mdns"

	DefaultServiceType = "_pairing._tcp"
	DefaultDomain      = "local."
)

var ErrStopped = errors.New("advertiser stopped")

// Service describes one DNS-SD registration.
type Service struct {
	Instance  string
	Type      string
	Domain    string
	Port      int
	TXT       []string
	Addresses []string
}

type Advertiser interface {
	Publish(ctx context.Context, svc Service) error
	Unpublish(instance string) error
	Stop()
}

type registration interface {
	Shutdown()
}

type registrar func(svc Service) (registration, error)

var registrars = map[string]registrar{
	BackendZeroconf: registerZeroconf,
	BackendMDNS:     registerMDNS,
}

type Config struct {
	Backend string
	Logger  *slog.Logger
}

// Manager keeps one live registration per instance name.
type Manager struct {
	backend  string
	register registrar
	logger   *slog.Logger

	mu      sync.Mutex
	active  map[string]registration
	stopped bool
}

func New(cfg Config) (*Manager, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendZeroconf
	}
	register, ok := registrars[backend]
	if !ok {
		return nil, fmt.Errorf("unknown advertise backend %q", cfg.Backend)
	}
	return &Manager{
		backend:  backend,
		register: register,
		logger:   cfg.Logger,
		active:   make(map[string]registration),
	}, nil
}

func (m *Manager) Backend() string {
	return m.backend
}

// Publish registers svc, replacing an earlier registration with the same
// instance name.
func (m *Manager) Publish(ctx context.Context, svc Service) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	svc = normalizeService(svc)
	if svc.Instance == "" {
		return errors.New("service instance name is empty")
	}
	if svc.Port <= 0 || svc.Port > 65535 {
		return fmt.Errorf("invalid service port %d", svc.Port)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrStopped
	}
	if prev, ok := m.active[svc.Instance]; ok {
		prev.Shutdown()
		delete(m.active, svc.Instance)
	}

	reg, err := m.register(svc)
	if err != nil {
		return fmt.Errorf("publish %s via %s: %w", svc.Instance, m.backend, err)
	}
	m.active[svc.Instance] = reg
	m.log(slog.LevelInfo, "advertise_published",
		slog.String("instance", svc.Instance),
		slog.String("service", svc.Type),
		slog.Int("port", svc.Port),
		slog.String("backend", m.backend),
	)
	return nil
}

// Unpublish withdraws a registration. Unknown instances are ignored.
func (m *Manager) Unpublish(instance string) error {
	m.mu.Lock()
	reg, ok := m.active[instance]
	delete(m.active, instance)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	reg.Shutdown()
	m.log(slog.LevelInfo, "advertise_unpublished", slog.String("instance", instance))
	return nil
}

// Stop withdraws every registration and rejects later Publish calls.
func (m *Manager) Stop() {
	m.mu.Lock()
	active := m.active
	m.active = make(map[string]registration)
	m.stopped = true
	m.mu.Unlock()

	for instance, reg := range active {
		reg.Shutdown()
		m.log(slog.LevelInfo, "advertise_unpublished", slog.String("instance", instance))
	}
}

// Published reports the instance names currently registered.
func (m *Manager) Published() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.active))
	for instance := range m.active {
		out = append(out, instance)
	}
	return out
}

func (m *Manager) log(level slog.Level, msg string, attrs ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Log(context.Background(), level, msg, attrs...)
}

func normalizeService(svc Service) Service {
	svc.Instance = strings.TrimSpace(svc.Instance)
	svc.Type = strings.TrimSpace(svc.Type)
	if svc.Type == "" {
		svc.Type = DefaultServiceType
	}
	svc.Domain = strings.TrimSpace(svc.Domain)
	if svc.Domain == "" {
		svc.Domain = DefaultDomain
	}
	return svc
}

// TXTRecords builds the TXT attributes advertised for a device.
// Capabilities are encoded as a JSON array string.
func TXTRecords(info domain.DeviceInfo, capabilities []string) []string {
	records := []string{
		"platform=" + string(info.Platform),
		"id=" + info.ID,
	}
	if capabilities == nil {
		capabilities = []string{}
	}
	encoded, err := json.Marshal(capabilities)
	if err == nil {
		records = append(records, "capabilities="+string(encoded))
	}
	return records
}

// ParseTXT is the inverse of TXTRecords, tolerant of extra attributes.
func ParseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, record := range records {
		key, value, ok := strings.Cut(record, "=")
		if !ok {
			out[record] = ""
			continue
		}
		out[key] = value
	}
	return out
}
