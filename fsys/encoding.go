package fsys

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
)

// Encodings accepted by readFile and writeFile.
var Encodings = []string{
	"ascii", "base64", "binary", "hex",
	"ucs2", "ucs-2", "utf16le", "utf-16le",
	"utf-8", "utf8", "latin1",
}

func normalizeEncoding(enc string) (string, error) {
	switch strings.ToLower(enc) {
	case "utf-8", "utf8":
		return "utf8", nil
	case "ucs2", "ucs-2", "utf16le", "utf-16le":
		return "utf16le", nil
	case "binary", "latin1":
		return "latin1", nil
	case "ascii", "base64", "hex":
		return strings.ToLower(enc), nil
	}
	return "", hosterr.Contract("encoding", "unknown encoding %q", enc)
}

// Decode turns file bytes into a guest value. An empty encoding yields
// a binary value.
func Decode(data []byte, enc string) (dynamic.Value, error) {
	if enc == "" {
		return dynamic.Binary(data), nil
	}
	norm, err := normalizeEncoding(enc)
	if err != nil {
		return dynamic.Value{}, err
	}
	switch norm {
	case "ascii":
		out := make([]byte, len(data))
		for i, b := range data {
			out[i] = b & 0x7f
		}
		return dynamic.String(string(out)), nil
	case "base64":
		return dynamic.String(base64.StdEncoding.EncodeToString(data)), nil
	case "hex":
		return dynamic.String(hex.EncodeToString(data)), nil
	case "latin1":
		s, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return dynamic.Value{}, hosterr.Wrap(hosterr.CodeInternal, err, "failed to decode latin1")
		}
		return dynamic.String(string(s)), nil
	case "utf16le":
		s, err := utf16le().NewDecoder().Bytes(data)
		if err != nil {
			return dynamic.Value{}, hosterr.Wrap(hosterr.CodeInternal, err, "failed to decode utf16le")
		}
		return dynamic.String(string(s)), nil
	default:
		if utf8.Valid(data) {
			return dynamic.String(string(data)), nil
		}
		return dynamic.String(strings.ToValidUTF8(string(data), "�")), nil
	}
}

// Encode turns guest data into file bytes. Binary values are written as
// is; strings are encoded with enc, utf8 when empty.
func Encode(data dynamic.Value, enc string) ([]byte, error) {
	if b, ok := data.AsBinary(); ok {
		return b, nil
	}
	s, ok := data.AsString()
	if !ok {
		return nil, hosterr.Contract("data", "expected string or binary, got %s", data.Kind())
	}
	if enc == "" {
		return []byte(s), nil
	}
	norm, err := normalizeEncoding(enc)
	if err != nil {
		return nil, err
	}
	switch norm {
	case "base64":
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, hosterr.Contract("data", "invalid base64: %v", err)
		}
		return b, nil
	case "hex":
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, hosterr.Contract("data", "invalid hex: %v", err)
		}
		return b, nil
	case "ascii", "latin1":
		// Characters outside latin1 are replaced rather than rejected.
		b, err := encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder()).Bytes([]byte(s))
		if err != nil {
			return nil, hosterr.Contract("data", "cannot encode as %s: %v", norm, err)
		}
		return b, nil
	case "utf16le":
		b, err := utf16le().NewEncoder().Bytes([]byte(s))
		if err != nil {
			return nil, hosterr.Contract("data", "cannot encode as utf16le: %v", err)
		}
		return b, nil
	default:
		return []byte(s), nil
	}
}

func utf16le() encoding.Encoding {
	return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
}
