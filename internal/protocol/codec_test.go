package protocol

import (
	"encoding/json"
	"math"
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"time"

	"go2tv.app/tvlink/internal/domain"
)

func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 535000000, time.UTC)
	messages := []Message{
		{
			ID:   "m-1",
			Type: KindDiscover,
			Payload: DiscoverPayload{
				DeviceInfo: domain.DeviceInfo{
					ID:        "tv-1",
					Name:      "Living Room",
					Platform:  domain.PlatformAndroidTV,
					Host:      "192.168.1.20",
					Port:      9999,
					Addresses: []string{"192.168.1.20"},
					LastSeen:  ts,
				},
				IsLoggedIn: true,
				UserID:     "user-1",
			},
			Timestamp: ts,
			From:      "tv-1",
		},
		{
			ID:        "m-2",
			Type:      KindHeartbeat,
			Payload:   HeartbeatPayload{Status: StatusAlive, IsLoggedIn: boolPtr(false)},
			Timestamp: ts,
			From:      "tv-1",
			To:        "phone-1",
		},
		{
			ID:   "m-3",
			Type: KindLogin,
			Payload: LoginPayload{
				Token: "abc",
				User: &domain.User{
					ID:       "user-1",
					Username: "viewer",
					ProfileImage: &domain.ProfileImage{
						Width: 100, Height: 100, Path: "https://cdn.example/p.png",
					},
					Creators: []string{"c-1"},
				},
				PairingCode: "1234",
			},
			Timestamp: ts,
			From:      "phone-1",
		},
		{ID: "m-4", Type: KindLogout, Payload: LogoutPayload{}, Timestamp: ts, From: "phone-1"},
		{
			ID:        "m-5",
			Type:      KindPlay,
			Payload:   PlayPayload{Source: &PlaySource{URL: "https://cdn.example/v.m3u8", Title: "Ep 1", StartTime: floatPtr(12.5)}},
			Timestamp: ts,
			From:      "phone-1",
		},
		{ID: "m-6", Type: KindPause, Payload: PausePayload{}, Timestamp: ts, From: "phone-1"},
		{ID: "m-7", Type: KindStop, Payload: StopPayload{}, Timestamp: ts, From: "phone-1"},
		{ID: "m-8", Type: KindSeek, Payload: SeekPayload{Delta: floatPtr(-10)}, Timestamp: ts, From: "phone-1"},
		{ID: "m-9", Type: KindAddQueueItem, Payload: AddQueueItemPayload{Item: QueueItem{ID: "q1", URL: "https://cdn.example/q1.m3u8"}}, Timestamp: ts, From: "phone-1"},
		{ID: "m-10", Type: KindRemoveQueueItem, Payload: RemoveQueueItemPayload{ItemID: "q1"}, Timestamp: ts, From: "phone-1"},
		{ID: "m-11", Type: KindClearQueue, Payload: ClearQueuePayload{}, Timestamp: ts, From: "phone-1"},
		{
			ID:   "m-12",
			Type: KindResponse,
			Payload: ResponsePayload{
				OriginalMessageID: "m-3",
				Command:           KindLogin,
				Status:            StatusError,
				Error:             &ResponseError{Code: "SIGN_IN_FAILED", Message: "boom"},
			},
			Timestamp: ts,
			From:      "tv-1",
		},
	}

	for _, m := range messages {
		t.Run(string(m.Type), func(t *testing.T) {
			encoded, err := Encode(m)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !decoded.Timestamp.Equal(m.Timestamp) {
				t.Fatalf("timestamp mismatch: got %v want %v", decoded.Timestamp, m.Timestamp)
			}
			decoded.Timestamp = m.Timestamp
			if !reflect.DeepEqual(decoded, m) {
				t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", decoded, m)
			}
		})
	}
}

func TestEncodeRejectsMismatchedPayload(t *testing.T) {
	_, err := Encode(Message{ID: "x", Type: KindLogin, Payload: LogoutPayload{}})
	if err == nil {
		t.Fatal("expected mismatch error")
	}
	if _, err := Encode(Message{ID: "x", Type: KindSeek, Payload: SeekPayload{Position: floatPtr(math.NaN())}}); err == nil {
		t.Fatal("expected non-finite error")
	}
}

func TestDecodeGarbageIsMalformed(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		buf := make([]byte, rng.Intn(64))
		rng.Read(buf)
		_, err := Decode(buf)
		if err == nil {
			t.Fatalf("expected error for %q", buf)
		}
		if !IsDecodeError(err, Malformed) {
			t.Fatalf("expected malformed error for %q, got %v", buf, err)
		}
	}

	for _, raw := range []string{"", "null", "[]", "42", `{"id":`, `{"id":"x","payload":{}}`, `{"type":"heartbeat","timestamp":"yesterday"}`} {
		if _, err := Decode([]byte(raw)); !IsDecodeError(err, Malformed) {
			t.Fatalf("expected malformed error for %q, got %v", raw, err)
		}
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"id":"1","type":"data","payload":{"x":1}}`))
	if !IsDecodeError(err, UnknownType) {
		t.Fatalf("expected unknown type error, got %v", err)
	}
	var dErr *DecodeError
	if !asDecodeError(err, &dErr) || dErr.MessageID != "1" || dErr.Type != "data" {
		t.Fatalf("unexpected decode error details: %+v", dErr)
	}
}

func TestDecodeRejectsPayloadMismatch(t *testing.T) {
	cases := []string{
		`{"id":"1","type":"login","payload":{"user":{"id":"u"}}}`,
		`{"id":"1","type":"login","payload":{"token":42}}`,
		`{"id":"1","type":"seek","payload":{}}`,
		`{"id":"1","type":"seek","payload":{"position":1,"delta":2}}`,
		`{"id":"1","type":"add_queue_item","payload":{"item":{}}}`,
		`{"id":"1","type":"remove_queue_item","payload":"q1"}`,
		`{"id":"1","type":"discover","payload":{"name":"tv"}}`,
		`{"id":"1","type":"response","payload":{"status":"maybe"}}`,
	}
	for _, raw := range cases {
		if _, err := Decode([]byte(raw)); !IsDecodeError(err, InvalidPayload) {
			t.Fatalf("expected invalid payload error for %s, got %v", raw, err)
		}
	}
}

func TestDecodeIgnoresUnknownFieldsAndNormalizesType(t *testing.T) {
	raw := `{"id":"1","type":"HEARTBEAT","payload":{"status":"alive","extra":true},"timestamp":1700000000000,"from":"phone","future":"x"}`
	m, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Type != KindHeartbeat {
		t.Fatalf("expected heartbeat, got %s", m.Type)
	}
	hb := m.Payload.(HeartbeatPayload)
	if hb.Status != StatusAlive {
		t.Fatalf("unexpected heartbeat payload: %+v", hb)
	}
	if !m.Timestamp.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("unexpected timestamp: %v", m.Timestamp)
	}
}

func TestDecodeAllowsMissingPayloadForEmptyKinds(t *testing.T) {
	for _, kind := range []CommandKind{KindHeartbeat, KindLogout, KindPause, KindStop, KindClearQueue, KindPlay} {
		raw, _ := json.Marshal(map[string]any{"id": "1", "type": kind})
		m, err := Decode(raw)
		if err != nil {
			t.Fatalf("decode %s: %v", kind, err)
		}
		if m.Payload.Kind() != kind {
			t.Fatalf("payload kind mismatch for %s", kind)
		}
	}
}

func TestNewMessageUsesPayloadKind(t *testing.T) {
	m := NewMessage("tv-1", HeartbeatPayload{Status: StatusAlive})
	if m.Type != KindHeartbeat || m.From != "tv-1" || strings.TrimSpace(m.ID) == "" {
		t.Fatalf("unexpected message: %+v", m)
	}
}

func asDecodeError(err error, target **DecodeError) bool {
	d, ok := err.(*DecodeError)
	if ok {
		*target = d
	}
	return ok
}
