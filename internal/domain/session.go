package domain

import "time"

type ProfileImage struct {
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	Path        string       `json:"path"`
	ChildImages []ImageChild `json:"childImages,omitempty"`
}

type ImageChild struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Path   string `json:"path"`
}

// User mirrors the platform's user object as pushed by a companion device.
type User struct {
	ID                    string        `json:"id"`
	Username              string        `json:"username"`
	Email                 string        `json:"email,omitempty"`
	DisplayName           string        `json:"displayName,omitempty"`
	ProfileImage          *ProfileImage `json:"profileImage,omitempty"`
	Creators              []string      `json:"creators,omitempty"`
	ScheduledDeletionDate *string       `json:"scheduledDeletionDate,omitempty"`
}

// AuthState is the session-visible authentication state. IsLoggedIn is true
// exactly when Token is non-empty.
type AuthState struct {
	Token           string     `json:"-"`
	User            *User      `json:"user,omitempty"`
	TokenExpiration *time.Time `json:"tokenExpiration,omitempty"`
	IsLoggedIn      bool       `json:"isLoggedIn"`
}

func (s AuthState) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}
