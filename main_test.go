package main

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"go2tv.app/tvlink/internal/domain"
)

func TestPairingURL(t *testing.T) {
	raw := pairingURL(domain.DeviceInfo{
		ID:       "5f0c8a6e-1f0e-4b7a-9d43-0a6f8c5e2b11",
		Name:     "Living Room",
		Platform: domain.PlatformAndroidTV,
		Host:     "192.168.1.40",
		Port:     9999,
	})

	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse pairing url: %v", err)
	}
	if parsed.Scheme != "tvlink" || parsed.Host != "192.168.1.40:9999" {
		t.Fatalf("unexpected pairing url %q", raw)
	}
	q := parsed.Query()
	if q.Get("id") != "5f0c8a6e-1f0e-4b7a-9d43-0a6f8c5e2b11" || q.Get("name") != "Living Room" || q.Get("platform") != "androidtv" {
		t.Fatalf("unexpected query %v", q)
	}
}

func TestPairingQRRendersBlocks(t *testing.T) {
	qr, err := pairingQR(domain.DeviceInfo{ID: "id", Name: "TV", Host: "10.0.0.2", Port: 9999})
	if err != nil {
		t.Fatalf("pairing qr: %v", err)
	}
	if strings.Count(qr, "\n") < 10 {
		t.Fatalf("expected a multi-line QR code, got %q", qr)
	}
}

func TestStopWithTimeout(t *testing.T) {
	if err := stopWithTimeout(func() {}, time.Second); err != nil {
		t.Fatalf("expected fast stop to succeed, got %v", err)
	}

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	err := stopWithTimeout(func() { <-release }, 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error for a stuck stop")
	}
}
