package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.MessageReceived("login")
	m.DecodeFailed("malformed")
	m.CommandFailed("login", "UNAUTHORIZED")
	m.SetLoggedIn(true)
	m.RendererLoad(false)
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.MessageReceived("heartbeat")
	m.DecodeFailed("unknown_type")
	m.CommandFailed("login", "SIGN_IN_FAILED")

	refreshed := false
	rec := httptest.NewRecorder()
	m.Handler(func() {
		refreshed = true
		m.SetLoggedIn(true)
	}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !refreshed {
		t.Fatal("expected gauges to be refreshed before scrape")
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"tvlink_connections_accepted_total 2",
		"tvlink_connections_active 1",
		`tvlink_messages_received_total{type="heartbeat"} 1`,
		`tvlink_decode_errors_total{kind="unknown_type"} 1`,
		`tvlink_commands_failed_total{code="SIGN_IN_FAILED",type="login"} 1`,
		"tvlink_logged_in 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}
