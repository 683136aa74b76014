package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/argon2"
)

const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

var errInvalidArgon2Hash = goerrors.New("invalid argon2id hash", goerrors.CategoryInternal).
	WithTextCode("INVALID_PASSWORD_HASH")

// Argon2idHasher stores passwords in PHC format:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
// Hashes that are not argon2id are checked with bcrypt so accounts created
// before a hasher switch can still log in.
type Argon2idHasher struct{}

var _ PasswordHasher = Argon2idHasher{}

func NewArgon2idHasher() Argon2idHasher {
	return Argon2idHasher{}
}

func (Argon2idHasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate salt")
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func (Argon2idHasher) ComparePasswordAndHash(password, encoded string) error {
	if !strings.HasPrefix(encoded, "$argon2id$") {
		return ComparePasswordAndHash(password, encoded)
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return errInvalidArgon2Hash
	}

	var memory, iterations, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return errInvalidArgon2Hash
	}
	if threads == 0 || threads > 255 {
		return errInvalidArgon2Hash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return errInvalidArgon2Hash
	}

	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 || len(expected) > 1<<10 {
		return errInvalidArgon2Hash
	}

	computed := argon2.IDKey([]byte(password), salt, iterations, memory, uint8(threads), uint32(len(expected)))
	if subtle.ConstantTimeCompare(computed, expected) != 1 {
		return ErrMismatchedHashAndPassword
	}

	return nil
}

// NewPasswordHasher returns the hasher registered under name
func NewPasswordHasher(name string) (PasswordHasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "bcrypt":
		return BcryptHasher{}, nil
	case "argon2id", "argon2":
		return Argon2idHasher{}, nil
	default:
		return nil, goerrors.New("unknown password hasher", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"hasher": name})
	}
}
