package recorder

import (
	"strings"
)

// MimePreferences is tried in order when negotiating the recording type.
var MimePreferences = []string{
	"audio/mp3",
	"audio/mpeg",
	"audio/webm",
	"audio/ogg",
	"audio/wav",
}

// DefaultMimeType tags blobs when no preferred type is supported. It is
// the container the recorder always knows how to write.
const DefaultMimeType = "audio/wav"

// SelectMimeType returns the first preferred type accepted by supports,
// or "" when none is.
func SelectMimeType(supports func(mimeType string) bool) string {
	if supports == nil {
		return ""
	}

	for _, mimeType := range MimePreferences {
		if supports(mimeType) {
			return mimeType
		}
	}

	return ""
}

// Supports reports whether this recorder can produce mimeType.
func Supports(mimeType string) bool {
	switch normalize(mimeType) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return true
	default:
		return false
	}
}

// Extension maps a MIME type to the file extension used in uploads.
func Extension(mimeType string) string {
	switch normalize(mimeType) {
	case "audio/mp3", "audio/mpeg":
		return "mp3"
	case "audio/webm":
		return "webm"
	case "audio/ogg":
		return "ogg"
	case "audio/wav", "audio/x-wav", "audio/wave", "":
		return "wav"
	default:
		return "bin"
	}
}

// normalize drops parameters such as ";codecs=opus".
func normalize(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}
