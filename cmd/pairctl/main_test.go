package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go2tv.app/tvlink/internal/bridge"
	"go2tv.app/tvlink/internal/pairing"
	"go2tv.app/tvlink/internal/player"
	"go2tv.app/tvlink/internal/protocol"
	"go2tv.app/tvlink/internal/session"
)

type tv struct {
	addr       string
	sessions   *session.MemoryStore
	controller *player.Controller
	queue      *player.Queue
}

func startTV(t *testing.T, code string) *tv {
	t.Helper()

	cookies, err := session.NewJarCookieStore()
	if err != nil {
		t.Fatalf("cookie store: %v", err)
	}
	out := &tv{
		sessions:   session.NewMemoryStore(),
		controller: player.New(player.Config{}),
		queue:      player.NewQueue(),
	}
	b, err := bridge.New(bridge.Config{
		DeviceID:    "tv-under-test",
		Session:     out.sessions,
		Cookies:     cookies,
		Player:      out.controller,
		Queue:       out.queue,
		PairingCode: code,
		BcryptCost:  4,
		Acknowledge: true,
	})
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	srv := pairing.New(pairing.Config{
		Host:       "127.0.0.1",
		Port:       0,
		Presence:   b,
		Dispatcher: b,
	})
	b.Attach(srv)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Stop)
	out.addr = srv.Addr().String()
	return out
}

func (tv *tv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	err := run(context.Background(), append([]string{"-addr", tv.addr, "-timeout", "3s"}, args...), &stdout)
	return stdout.String(), err
}

func TestLoginAndLogout(t *testing.T) {
	tv := startTV(t, "")

	out, err := tv.run(t, "login", "tok-123", "user-1", "linus")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, `"status": "success"`) {
		t.Fatalf("expected success response, got %s", out)
	}
	state := tv.sessions.Snapshot()
	if !state.IsLoggedIn || state.UserID() != "user-1" || state.User.Username != "linus" {
		t.Fatalf("unexpected session %+v", state)
	}

	if _, err := tv.run(t, "logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if tv.sessions.Snapshot().IsLoggedIn {
		t.Fatal("expected logout to clear the session")
	}
}

func TestLoginWithWrongCodeIsRejected(t *testing.T) {
	tv := startTV(t, "4821")

	out, err := tv.run(t, "-code", "0000", "login", "tok-123", "user-1")
	if err == nil {
		t.Fatal("expected an error for a wrong pairing code")
	}
	if !strings.Contains(out, bridge.CodeUnauthorized) {
		t.Fatalf("expected %s in response, got %s", bridge.CodeUnauthorized, out)
	}
	if tv.sessions.Snapshot().IsLoggedIn {
		t.Fatal("session must stay untouched")
	}

	if _, err := tv.run(t, "-code", "4821", "login", "tok-123", "user-1"); err != nil {
		t.Fatalf("login with the right code: %v", err)
	}
}

func TestPlaybackCommands(t *testing.T) {
	tv := startTV(t, "")

	if _, err := tv.run(t, "-live", "play", "https://cdn.example.com/live.m3u8", "Launch", "stream"); err != nil {
		t.Fatalf("play: %v", err)
	}
	src, ok := tv.controller.Source()
	if !ok || src.URL != "https://cdn.example.com/live.m3u8" || !src.Live {
		t.Fatalf("unexpected source %+v", src)
	}
	if tv.controller.State().IsPaused {
		t.Fatal("expected playback to start")
	}

	tv.controller.OnVideoDuration(3600)
	if _, err := tv.run(t, "seek", "30"); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := tv.controller.State().Position; got != 30 {
		t.Fatalf("expected position 30, got %v", got)
	}
	if _, err := tv.run(t, "seek", "-10"); err != nil {
		t.Fatalf("seek back: %v", err)
	}
	if got := tv.controller.State().Position; got != 20 {
		t.Fatalf("expected position 20, got %v", got)
	}

	if _, err := tv.run(t, "pause"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !tv.controller.State().IsPaused {
		t.Fatal("expected pause")
	}
	if _, err := tv.run(t, "stop"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := tv.controller.State().Position; got != 0 {
		t.Fatalf("expected stop to rewind, got %v", got)
	}
}

func TestQueueCommands(t *testing.T) {
	tv := startTV(t, "")

	if _, err := tv.run(t, "queue", "add", "https://cdn.example.com/a.m3u8", "Episode", "1"); err != nil {
		t.Fatalf("queue add: %v", err)
	}
	if _, err := tv.run(t, "queue", "add", "https://cdn.example.com/b.m3u8"); err != nil {
		t.Fatalf("queue add: %v", err)
	}
	items := tv.queue.Items()
	if len(items) != 2 || items[0].Title != "Episode 1" {
		t.Fatalf("unexpected queue %+v", items)
	}

	if _, err := tv.run(t, "queue", "remove", items[1].ID); err != nil {
		t.Fatalf("queue remove: %v", err)
	}
	if _, err := tv.run(t, "queue", "remove", "missing"); err == nil {
		t.Fatal("expected an error when removing an unknown item")
	}
	if _, err := tv.run(t, "queue", "clear"); err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	if tv.queue.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", tv.queue.Len())
	}
}

func TestStatusPrintsDevice(t *testing.T) {
	tv := startTV(t, "")

	out, err := tv.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, `"device"`) || !strings.Contains(out, `"heartbeat"`) {
		t.Fatalf("unexpected status output %s", out)
	}
}

func TestUsageErrors(t *testing.T) {
	cases := [][]string{
		{},
		{"dance"},
		{"seek"},
		{"seek", "soon"},
		{"queue"},
		{"queue", "shuffle"},
		{"login", "tok-only"},
	}
	for _, args := range cases {
		err := run(context.Background(), args, &bytes.Buffer{})
		if !errors.Is(err, errUsage) {
			t.Fatalf("run(%q) = %v, want usage error", args, err)
		}
	}
}

func TestParseSeek(t *testing.T) {
	abs, err := parseSeek("42.5")
	if err != nil || abs.Position == nil || *abs.Position != 42.5 || abs.Delta != nil {
		t.Fatalf("unexpected absolute seek %+v (%v)", abs, err)
	}
	rel, err := parseSeek("+15")
	if err != nil || rel.Delta == nil || *rel.Delta != 15 || rel.Position != nil {
		t.Fatalf("unexpected relative seek %+v (%v)", rel, err)
	}
	var _ protocol.Payload = abs
}
