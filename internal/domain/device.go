package domain

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Platform string

const (
	PlatformTVOS      Platform = "tvos"
	PlatformAndroidTV Platform = "androidtv"
)

func ParsePlatform(raw string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(raw))) {
	case PlatformTVOS:
		return PlatformTVOS, nil
	case PlatformAndroidTV, "android", "":
		return PlatformAndroidTV, nil
	default:
		return "", fmt.Errorf("unknown platform %q", raw)
	}
}

// DeviceInfo is the wire-visible description of this TV instance.
type DeviceInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Platform  Platform  `json:"platform"`
	Host      string    `json:"host"`
	Port      uint16    `json:"port"`
	Addresses []string  `json:"addresses"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Identity is created once by the composition root and passed down. Only the
// address list and lastSeen change after construction.
type Identity struct {
	id       string
	name     string
	platform Platform
	host     string

	mu        sync.RWMutex
	port      uint16
	addresses []string
	lastSeen  time.Time
}

var lookupAddresses = localIPv4Addresses

func NewIdentity(name string, platform Platform, port uint16) *Identity {
	id := uuid.NewString()
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("%s %s", platform, id[:8])
	}

	return &Identity{
		id:       id,
		name:     name,
		platform: platform,
		port:     port,
		lastSeen: time.Now(),
	}
}

func (d *Identity) ID() string {
	return d.id
}

func (d *Identity) Name() string {
	return d.name
}

func (d *Identity) Platform() Platform {
	return d.platform
}

func (d *Identity) Port() uint16 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.port
}

// SetPort records the port actually bound by the listener.
func (d *Identity) SetPort(port uint16) {
	d.mu.Lock()
	d.port = port
	d.mu.Unlock()
}

// Refresh re-reads the local interface addresses. Concurrent refreshes are
// last-writer-wins.
func (d *Identity) Refresh(now time.Time) {
	addrs, err := lookupAddresses()
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		d.addresses = addrs
	}
	d.lastSeen = now
}

func (d *Identity) Snapshot() DeviceInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	host := d.host
	if host == "" && len(d.addresses) > 0 {
		host = d.addresses[0]
	}

	return DeviceInfo{
		ID:        d.id,
		Name:      d.name,
		Platform:  d.platform,
		Host:      host,
		Port:      d.port,
		Addresses: append([]string{}, d.addresses...),
		LastSeen:  d.lastSeen,
	}
}

func localIPv4Addresses() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := []string{}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
				continue
			}
			out = append(out, ipNet.IP.String())
		}
	}
	sort.Strings(out)
	return out, nil
}
