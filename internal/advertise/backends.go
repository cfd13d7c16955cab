package advertise

import (
	"net"

	"github.com/grandcat/zeroconf"
	"github.com/hashicorp/mdns"
)

func registerZeroconf(svc Service) (registration, error) {
	server, err := zeroconf.Register(svc.Instance, svc.Type, svc.Domain, svc.Port, svc.TXT, nil)
	if err != nil {
		return nil, err
	}
	return server, nil
}

type mdnsRegistration struct {
	server *mdns.Server
}

func (r mdnsRegistration) Shutdown() {
	_ = r.server.Shutdown()
}

func registerMDNS(svc Service) (registration, error) {
	ips := make([]net.IP, 0, len(svc.Addresses))
	for _, addr := range svc.Addresses {
		if ip := net.ParseIP(addr); ip != nil {
			ips = append(ips, ip)
		}
	}

	zone, err := mdns.NewMDNSService(svc.Instance, svc.Type, svc.Domain, "", svc.Port, ips, svc.TXT)
	if err != nil {
		return nil, err
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: zone})
	if err != nil {
		return nil, err
	}
	return mdnsRegistration{server: server}, nil
}
