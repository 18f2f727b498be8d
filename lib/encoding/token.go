package encoding

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrInvalidToken is returned for tokens that fail verification,
// decryption or decoding.
var ErrInvalidToken = errors.New("encoding: invalid token")

// ErrExpiredToken is returned for tokens older than the allowed age.
var ErrExpiredToken = errors.New("encoding: expired token")

// SessionToken is the payload of the session cookie.
type SessionToken struct {
	SessionID string `msgpack:"sid"`
	IssuedAt  int64  `msgpack:"iat"`
}

// Sealer protects values handed to browsers. It supports two modes:
//   - Signed: base64 msgpack + HMAC tag, readable but tamper-proof
//   - Encrypted: AES-GCM, fully opaque
type Sealer struct {
	key []byte
	gcm cipher.AEAD
	now func() time.Time
}

// NewSealer returns a sealer for key. Keys shorter than 32 bytes are
// stretched with SHA-256.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) == 0 {
		return nil, errors.New("encoding: empty sealing key")
	}
	if len(key) < 32 {
		h := sha256.Sum256(key)
		key = h[:]
	}
	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{key: key, gcm: gcm, now: time.Now}, nil
}

// Seal encodes v with msgpack and signs or encrypts the result.
func (s *Sealer) Seal(v any, encrypt bool) (string, error) {
	packed, err := msgpack.Marshal(v)
	if err != nil {
		return "", err
	}
	if encrypt {
		return s.encrypt(packed)
	}
	return s.sign(packed), nil
}

// Open reverses Seal into v.
func (s *Sealer) Open(token string, encrypted bool, v any) error {
	var packed []byte
	var err error
	if encrypted {
		packed, err = s.decrypt(token)
	} else {
		packed, err = s.verify(token)
	}
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(packed, v); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// SealSession returns an encrypted token for a session ID.
func (s *Sealer) SealSession(sessionID string) (string, error) {
	return s.Seal(SessionToken{SessionID: sessionID, IssuedAt: s.now().Unix()}, true)
}

// OpenSession returns the session ID of a token issued less than maxAge
// ago. A zero maxAge accepts any age.
func (s *Sealer) OpenSession(token string, maxAge time.Duration) (string, error) {
	var st SessionToken
	if err := s.Open(token, true, &st); err != nil {
		return "", err
	}
	if maxAge > 0 && s.now().Sub(time.Unix(st.IssuedAt, 0)) > maxAge {
		return "", ErrExpiredToken
	}
	return st.SessionID, nil
}

func (s *Sealer) tag(data []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return mac.Sum(nil)[:16]
}

func (s *Sealer) sign(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data) + "." + base64.RawURLEncoding.EncodeToString(s.tag(data))
}

func (s *Sealer) verify(token string) ([]byte, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrInvalidToken
	}
	data, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, ErrInvalidToken
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(got, s.tag(data)) {
		return nil, ErrInvalidToken
	}
	return data, nil
}

func (s *Sealer) encrypt(data []byte) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(s.gcm.Seal(nonce, nonce, data, nil)), nil
}

func (s *Sealer) decrypt(token string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < s.gcm.NonceSize() {
		return nil, ErrInvalidToken
	}
	n := s.gcm.NonceSize()
	data, err := s.gcm.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return data, nil
}
