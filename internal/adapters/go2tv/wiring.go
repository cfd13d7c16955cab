package go2tv

import (
	"context"

	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"

	"go2tv.app/tvlink/internal/adapters"
)

// Bundle wires the go2tv-backed renderer adapters in one place.
type Bundle struct {
	Discovery   adapters.Discovery
	CastFactory adapters.CastFactory
}

func NewBundle() Bundle {
	return Bundle{
		Discovery:   DiscoveryAdapter{},
		CastFactory: CastFactory{},
	}
}

type DiscoveryAdapter struct{}

func (DiscoveryAdapter) StartChromecastDiscoveryLoop(ctx context.Context) {
	devices.StartChromecastDiscoveryLoop(ctx)
}

func (DiscoveryAdapter) LoadAllDevices(delaySeconds int) ([]devices.Device, error) {
	return devices.LoadAllDevices(delaySeconds)
}

type CastFactory struct{}

func (CastFactory) NewCastClient(deviceAddr string) (adapters.CastClient, error) {
	client, err := castprotocol.NewCastClient(deviceAddr)
	if err != nil {
		return nil, err
	}
	return &castClient{client: client}, nil
}

// castClient narrows *castprotocol.CastClient to adapters.CastClient.
type castClient struct {
	client *castprotocol.CastClient
}

func (c *castClient) Connect() error {
	return c.client.Connect()
}

func (c *castClient) Load(mediaURL, contentType string, startTime int, duration float64, subtitleURL string, live bool) error {
	return c.client.Load(mediaURL, contentType, startTime, duration, subtitleURL, live)
}

func (c *castClient) Stop() error {
	return c.client.Stop()
}

func (c *castClient) GetStatus() (*castprotocol.CastStatus, error) {
	return c.client.GetStatus()
}

func (c *castClient) Close(stopMedia bool) error {
	return c.client.Close(stopMedia)
}

var (
	_ adapters.Discovery   = DiscoveryAdapter{}
	_ adapters.CastFactory = CastFactory{}
)
