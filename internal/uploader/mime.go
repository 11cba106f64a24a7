package uploader

import "strings"

// contentTypeFor mirrors original_source/peggy/src/app.rs's extension
// match exactly, including the octet-stream fallback for anything
// else.
func contentTypeFor(path string) string {
	switch ext(path) {
	case "m3u8":
		return "application/vnd.apple.mpegurl"
	case "ts":
		return "video/mp2t"
	case "vtt":
		return "text/vtt"
	default:
		return "application/octet-stream"
	}
}

func ext(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 || i == len(path)-1 {
		return ""
	}
	return path[i+1:]
}
