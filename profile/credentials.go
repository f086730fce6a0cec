package profile

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // the platform signature is defined as SHA-1
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Session holds the per-login session key sensitive data is sealed with.
type Session struct {
	key   []byte
	appID string
	now   func() time.Time
}

// NewSession creates a session with a fresh random key.
func NewSession(appID string) (*Session, error) {
	key := make([]byte, aes.BlockSize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return &Session{key: key, appID: appID, now: time.Now}, nil
}

// Key returns the session key, base64 encoded, as a backend would hold it.
func (s *Session) Key() string { return base64.StdEncoding.EncodeToString(s.key) }

// Sealed is sensitive data in the platform's envelope.
type Sealed struct {
	RawData       string
	Signature     string
	EncryptedData string
	IV            string
}

// Sign returns the hex SHA-1 of rawData followed by the session key.
func (s *Session) Sign(rawData string) string {
	sum := sha1.Sum(append([]byte(rawData), []byte(s.Key())...)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Seal signs public and encrypts full, which gains a watermark naming the
// app and the sealing time.
func (s *Session) Seal(public any, full map[string]any) (Sealed, error) {
	raw, err := json.Marshal(public)
	if err != nil {
		return Sealed{}, err
	}
	body := make(map[string]any, len(full)+1)
	for k, v := range full {
		body[k] = v
	}
	body["watermark"] = map[string]any{"appid": s.appID, "timestamp": s.now().Unix()}
	plain, err := json.Marshal(body)
	if err != nil {
		return Sealed{}, err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return Sealed{}, fmt.Errorf("generate iv: %w", err)
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return Sealed{}, err
	}
	padded := pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return Sealed{
		RawData:       string(raw),
		Signature:     s.Sign(string(raw)),
		EncryptedData: base64.StdEncoding.EncodeToString(out),
		IV:            base64.StdEncoding.EncodeToString(iv),
	}, nil
}

// Open decrypts data sealed by this session.
func (s *Session) Open(encryptedData, iv string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encryptedData)
	if err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	vec, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	if len(vec) != aes.BlockSize || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("malformed sealed data")
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, vec).CryptBlocks(out, data)
	return unpad(out)
}

func pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("bad padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("bad padding")
		}
	}
	return b[:len(b)-n], nil
}
