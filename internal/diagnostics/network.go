package diagnostics

import (
	"net"
	"strconv"
)

var (
	interfaces = net.Interfaces
	listen     = net.Listen
)

type InterfaceStatus struct {
	Name      string   `json:"name"`
	Addresses []string `json:"addresses"`
	Multicast bool     `json:"multicast"`
}

type PortStatus struct {
	Port      int    `json:"port"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

type NetworkReport struct {
	Interfaces       []InterfaceStatus `json:"interfaces"`
	Pairing          PortStatus        `json:"pairing_port"`
	MulticastCapable bool              `json:"multicast_capable"`
	Ready            bool              `json:"ready"`
}

// DetectNetwork reports whether the host can advertise over mDNS and accept
// pairing connections on host:port. Loopback and down interfaces are skipped.
func DetectNetwork(host string, port int) NetworkReport {
	report := NetworkReport{
		Interfaces: detectInterfaces(),
		Pairing:    detectPort(host, port),
	}
	for _, iface := range report.Interfaces {
		if iface.Multicast && len(iface.Addresses) > 0 {
			report.MulticastCapable = true
			break
		}
	}
	report.Ready = report.MulticastCapable && report.Pairing.Available
	return report
}

func detectInterfaces() []InterfaceStatus {
	ifaces, err := interfaces()
	if err != nil {
		return []InterfaceStatus{}
	}

	out := make([]InterfaceStatus, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		status := InterfaceStatus{
			Name:      iface.Name,
			Addresses: []string{},
			Multicast: iface.Flags&net.FlagMulticast != 0,
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				status.Addresses = append(status.Addresses, addr.String())
			}
		}
		out = append(out, status)
	}
	return out
}

func detectPort(host string, port int) PortStatus {
	status := PortStatus{Port: port}
	ln, err := listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		status.Error = err.Error()
		return status
	}
	_ = ln.Close()
	status.Available = true
	return status
}
