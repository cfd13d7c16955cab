package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var ErrInvalidCredential = errors.New("invalid credential")

// Credential is the parsed form of a LOGIN token. Cookie is nil when the
// token was a raw session value.
type Credential struct {
	Value   string
	Expires *time.Time
	Cookie  *Cookie
}

type cookieDescriptor struct {
	Name     string          `json:"name"`
	Value    string          `json:"value"`
	Expires  json.RawMessage `json:"expires"`
	Domain   string          `json:"domain"`
	Path     string          `json:"path"`
	Secure   bool            `json:"secure"`
	HTTPOnly bool            `json:"httpOnly"`
}

// ParseCredential accepts either a raw token or a JSON cookie descriptor
// ({value, expires, domain, path, secure, httpOnly}).
func ParseCredential(token string) (Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}
	if !strings.HasPrefix(token, "{") {
		return Credential{Value: token}, nil
	}

	var desc cookieDescriptor
	if err := json.Unmarshal([]byte(token), &desc); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	desc.Value = strings.TrimSpace(desc.Value)
	if desc.Value == "" {
		return Credential{}, fmt.Errorf("%w: cookie value is empty", ErrInvalidCredential)
	}
	expires, err := parseExpires(desc.Expires)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	return Credential{
		Value:   desc.Value,
		Expires: expires,
		Cookie: &Cookie{
			Name:     strings.TrimSpace(desc.Name),
			Value:    desc.Value,
			Domain:   strings.TrimSpace(desc.Domain),
			Path:     strings.TrimSpace(desc.Path),
			Expires:  expires,
			Secure:   desc.Secure,
			HTTPOnly: desc.HTTPOnly,
		},
	}, nil
}

func parseExpires(raw json.RawMessage) (*time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		for _, layout := range []string{time.RFC3339Nano, http.TimeFormat, time.RFC1123} {
			if t, err := time.Parse(layout, s); err == nil {
				t = t.UTC()
				return &t, nil
			}
		}
		return nil, fmt.Errorf("unrecognised expires %q", s)
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return nil, fmt.Errorf("unrecognised expires: %w", err)
	}
	t := time.UnixMilli(int64(ms)).UTC()
	return &t, nil
}
