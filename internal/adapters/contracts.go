package adapters

import (
	"context"

	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"
)

// Discovery provides LAN render-target discovery primitives.
type Discovery interface {
	StartChromecastDiscoveryLoop(ctx context.Context)
	LoadAllDevices(delaySeconds int) ([]devices.Device, error)
}

// CastClient represents a controllable Chromecast session.
type CastClient interface {
	Connect() error
	Load(mediaURL, contentType string, startTime int, duration float64, subtitleURL string, live bool) error
	Stop() error
	GetStatus() (*castprotocol.CastStatus, error)
	Close(stopMedia bool) error
}

// CastFactory creates CastClient instances.
type CastFactory interface {
	NewCastClient(deviceAddr string) (CastClient, error)
}
