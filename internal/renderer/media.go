package renderer

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"go2tv.app/go2tv/v2/utils"
)

const hlsContentType = "application/vnd.apple.mpegurl"

// contentTypeFor guesses the MIME type a Chromecast receiver expects for
// sourceURL. Anything unrecognised is sent as HLS since that is what the
// pairing clients stream.
func contentTypeFor(sourceURL string) string {
	if utils.IsHLSStream(sourceURL, "") {
		return hlsContentType
	}
	ext := mediaExt(sourceURL)
	if ext == "" {
		return hlsContentType
	}
	guessed := mime.TypeByExtension(ext)
	if guessed == "" {
		return hlsContentType
	}
	return strings.TrimSpace(strings.Split(guessed, ";")[0])
}

func mediaExt(source string) string {
	parsed, err := url.Parse(source)
	if err != nil || parsed.Path == "" {
		return ""
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	if !isSafeExt(ext) {
		return ""
	}
	return ext
}

func isSafeExt(ext string) bool {
	if ext == "" || len(ext) > 16 || !strings.HasPrefix(ext, ".") {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func normalizeCastState(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "stopped" {
		return "idle"
	}
	return s
}
