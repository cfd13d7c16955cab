package domain

const (
	ProtocolChromecast = "chromecast"
	ProtocolDLNA       = "dlna"
)

// RenderTarget is a LAN device that can mirror the local player.
type RenderTarget struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Address     string `json:"address"`
	IsAudioOnly bool   `json:"is_audio_only"`
	Protocol    string `json:"protocol"`

	// Supported is false for targets the renderer cannot drive, with Reason
	// explaining why.
	Supported bool   `json:"supported"`
	Reason    string `json:"reason,omitempty"`
}
