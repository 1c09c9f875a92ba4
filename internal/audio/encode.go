// Package audio holds the binary-to-text helpers for the data-URL delivery path.
package audio

import (
	"encoding/base64"
	"strings"
)

// EncodeChunkSize is the number of raw bytes encoded per step. It is a
// multiple of 3 so every chunk encodes without padding and the chunk outputs
// concatenate into one valid base64 string.
const EncodeChunkSize = 1023

const MimeMP3 = "audio/mp3"

// EncodeBase64Chunked encodes data in fixed EncodeChunkSize steps into a
// single preallocated buffer. Memory use per step is bounded regardless of
// the input size.
func EncodeBase64Chunked(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(data)))

	buf := make([]byte, base64.StdEncoding.EncodedLen(EncodeChunkSize))
	for start := 0; start < len(data); start += EncodeChunkSize {
		end := start + EncodeChunkSize
		if end > len(data) {
			end = len(data)
		}
		n := base64.StdEncoding.EncodedLen(end - start)
		base64.StdEncoding.Encode(buf[:n], data[start:end])
		sb.Write(buf[:n])
	}

	return sb.String()
}

// DataURL builds a data: URL embedding data with the given MIME type.
func DataURL(mimeType string, data []byte) string {
	encoded := EncodeBase64Chunked(data)

	var sb strings.Builder
	sb.Grow(len("data:;base64,") + len(mimeType) + len(encoded))
	sb.WriteString("data:")
	sb.WriteString(mimeType)
	sb.WriteString(";base64,")
	sb.WriteString(encoded)
	return sb.String()
}

// Truncate returns at most max runes of s.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
