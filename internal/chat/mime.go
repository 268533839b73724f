package chat

import "strings"

// ExtForContentType maps a payload media type to a file extension.
func ExtForContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" {
		return ".bin"
	}
	base := strings.TrimSpace(strings.Split(ct, ";")[0])
	switch base {
	case "audio/ogg", "application/ogg":
		return ".ogg"
	case "audio/mp4", "video/mp4":
		return ".m4a"
	case "audio/webm":
		return ".webm"
	case "audio/wav", "audio/x-wav":
		return ".wav"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	default:
		return ".bin"
	}
}
