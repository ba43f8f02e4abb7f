package session

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Legacy single-byte encodings accepted in the fallback chain. UTF-8 is
// handled separately since Go strings already are UTF-8.
var charmaps = map[string]*charmap.Charmap{
	"latin-1":      charmap.ISO8859_1,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
	"cp437":        charmap.CodePage437,
	"cp1252":       charmap.Windows1252,
	"windows-1252": charmap.Windows1252,
	"koi8-r":       charmap.KOI8R,
}

func isUTF8Name(name string) bool {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return true
	}
	return false
}

// EncodeText encodes text in the named encoding, strictly: a rune the
// encoding cannot represent is an error, so the caller can fall through
// to the next candidate.
func EncodeText(text, name string) ([]byte, error) {
	if isUTF8Name(name) {
		return []byte(text), nil
	}
	cm, ok := charmaps[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
	out, err := cm.NewEncoder().String(text)
	if err != nil {
		return nil, fmt.Errorf("encoding %q: %w", name, err)
	}
	return []byte(out), nil
}

// EncodeWithFallback tries the primary encoding, then each fallback in
// order. It returns the encoded bytes and the encoding that succeeded.
// When nothing in the chain can represent the text it returns an error;
// the transport then sends a plain ASCII notice instead of the payload.
func EncodeWithFallback(text, primary string, fallbacks []string) ([]byte, string, error) {
	tried := append([]string{primary}, fallbacks...)
	var firstErr error
	for _, name := range tried {
		b, err := EncodeText(text, name)
		if err == nil {
			return b, name, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, "", fmt.Errorf("no usable encoding in %v: %w", tried, firstErr)
}

// EncodeLossy encodes with substitution for unsupported runes. Used for
// the error notice itself, which must always be deliverable.
func EncodeLossy(text, name string) []byte {
	if isUTF8Name(name) {
		return []byte(text)
	}
	cm, ok := charmaps[strings.ToLower(name)]
	if !ok {
		return []byte(text)
	}
	out, err := encoding.ReplaceUnsupported(cm.NewEncoder()).String(text)
	if err != nil {
		return []byte(text)
	}
	return []byte(out)
}

// DecodeBytes converts inbound raw bytes to a string. Valid UTF-8 passes
// through; otherwise the first known fallback charmap decodes it (legacy
// single-byte decoders accept any byte). Defaults to latin-1.
func DecodeBytes(raw []byte, fallbacks []string) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	for _, name := range fallbacks {
		if cm, ok := charmaps[strings.ToLower(name)]; ok {
			if out, err := cm.NewDecoder().Bytes(raw); err == nil {
				return string(out)
			}
		}
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
