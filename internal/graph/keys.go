package graph

import (
	"encoding/base64"
	"strings"
)

// KV keys only allow [-/_=.a-zA-Z0-9] and use '.' as the token separator.
// Segments outside that alphabet are base64url-encoded behind a marker.
const encodedMarker = "=b"

func validSegment(s string) bool {
	if s == "" || strings.HasPrefix(s, encodedMarker) {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '/':
		default:
			return false
		}
	}
	return true
}

func encodeSegment(s string) string {
	if validSegment(s) {
		return s
	}
	return encodedMarker + base64.RawURLEncoding.EncodeToString([]byte(s))
}

func decodeSegment(s string) (string, bool) {
	rest, ok := strings.CutPrefix(s, encodedMarker)
	if !ok {
		return s, true
	}
	b, err := base64.RawURLEncoding.DecodeString(rest)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func fieldKey(soul, key, field string) string {
	return encodeSegment(soul) + "." + encodeSegment(key) + "." + encodeSegment(field)
}

func parseFieldKey(k string) (soul, key, field string, ok bool) {
	parts := strings.Split(k, ".")
	if len(parts) != 3 {
		return "", "", "", false
	}
	out := make([]string, 3)
	for i, p := range parts {
		seg, valid := decodeSegment(p)
		if !valid {
			return "", "", "", false
		}
		out[i] = seg
	}
	return out[0], out[1], out[2], true
}
