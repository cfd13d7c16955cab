package companion

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"

	"github.com/grandcat/zeroconf"

	"go2tv.app/tvlink/internal/advertise"
)

// Service is one TV instance found on the LAN.
type Service struct {
	Instance     string   `json:"instance"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	Addresses    []string `json:"addresses"`
	ID           string   `json:"id,omitempty"`
	Platform     string   `json:"platform,omitempty"`
	Capabilities string   `json:"capabilities,omitempty"`
}

// Addr returns a dialable host:port, preferring the first IPv4 address.
func (s Service) Addr() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	if host == "" {
		return ""
	}
	return net.JoinHostPort(host, strconv.Itoa(s.Port))
}

// Browse collects pairing services announced until ctx is done.
func Browse(ctx context.Context, serviceType, domain string) ([]Service, error) {
	if serviceType == "" {
		serviceType = advertise.DefaultServiceType
	}
	if domain == "" {
		domain = advertise.DefaultDomain
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("create resolver: %w", err)
	}

	var mu sync.Mutex
	found := map[string]Service{}
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			svc := serviceFromEntry(entry)
			mu.Lock()
			found[svc.Instance] = svc
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, serviceType, domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", serviceType, err)
	}
	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	out := make([]Service, 0, len(found))
	for _, svc := range found {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Instance < out[j].Instance
	})
	return out, nil
}

func serviceFromEntry(entry *zeroconf.ServiceEntry) Service {
	txt := advertise.ParseTXT(entry.Text)
	svc := Service{
		Instance:     entry.Instance,
		Host:         entry.HostName,
		Port:         entry.Port,
		ID:           txt["id"],
		Platform:     txt["platform"],
		Capabilities: txt["capabilities"],
	}
	for _, ip := range entry.AddrIPv4 {
		svc.Addresses = append(svc.Addresses, ip.String())
	}
	return svc
}
