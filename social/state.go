package social

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const DefaultStateTTL = 10 * time.Minute

// State travels through the provider round trip. It carries the PKCE
// verifier so nothing has to be stored server side.
type State struct {
	Nonce        string `json:"n"`
	Provider     string `json:"p"`
	CodeVerifier string `json:"cv,omitempty"`
	IssuedAt     int64  `json:"iat"`
	ExpiresAt    int64  `json:"exp"`
}

// StateCodec seals State values with AES-GCM and signs the ciphertext
// with HMAC-SHA256. Both keys are derived from one secret.
type StateCodec struct {
	encKey []byte
	macKey []byte
	ttl    time.Duration
	now    func() time.Time
}

type StateCodecOption func(*StateCodec)

func WithStateTTL(ttl time.Duration) StateCodecOption {
	return func(s *StateCodec) {
		s.ttl = ttl
	}
}

func WithStateClock(clock func() time.Time) StateCodecOption {
	return func(s *StateCodec) {
		if clock != nil {
			s.now = clock
		}
	}
}

func NewStateCodec(secret []byte, opts ...StateCodecOption) *StateCodec {
	enc := sha256.Sum256(append([]byte("authd-state-enc:"), secret...))
	mac := sha256.Sum256(append([]byte("authd-state-mac:"), secret...))

	s := &StateCodec{
		encKey: enc[:],
		macKey: mac[:],
		ttl:    DefaultStateTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Encode stamps, encrypts and signs state
func (s *StateCodec) Encode(state *State) (string, error) {
	if state == nil {
		return "", ErrInvalidState
	}

	now := s.now()
	if state.IssuedAt == 0 {
		state.IssuedAt = now.Unix()
	}
	if state.ExpiresAt == 0 {
		state.ExpiresAt = now.Add(s.ttl).Unix()
	}
	if state.Nonce == "" {
		nonce, err := randomString(16)
		if err != nil {
			return "", err
		}
		state.Nonce = nonce
	}

	plaintext, err := json.Marshal(state)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to marshal oauth state")
	}

	gcm, err := s.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read random nonce")
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	out := append(s.sign(sealed), sealed...)

	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decode verifies the signature, decrypts and checks expiry
func (s *StateCodec) Decode(value string) (*State, error) {
	data, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || len(data) < sha256.Size {
		return nil, ErrInvalidState
	}

	signature, sealed := data[:sha256.Size], data[sha256.Size:]
	if !hmac.Equal(signature, s.sign(sealed)) {
		return nil, ErrInvalidState
	}

	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, ErrInvalidState
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidState
	}

	var state State
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return nil, ErrInvalidState
	}

	if s.now().Unix() > state.ExpiresAt {
		return nil, ErrStateExpired
	}

	return &state, nil
}

func (s *StateCodec) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.encKey)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create state cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create state cipher")
	}
	return gcm, nil
}

func (s *StateCodec) sign(data []byte) []byte {
	mac := hmac.New(sha256.New, s.macKey)
	mac.Write(data)
	return mac.Sum(nil)
}

// NewCodeVerifier returns a PKCE verifier and its S256 challenge
func NewCodeVerifier() (verifier, challenge string, err error) {
	verifier, err = randomString(32)
	if err != nil {
		return "", "", err
	}
	return verifier, CodeChallenge(verifier), nil
}

// CodeChallenge is the S256 transform of verifier
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read random bytes")
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
