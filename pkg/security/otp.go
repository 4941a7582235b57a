// Package security generates completion codes and stores them as Argon2id
// hashes in the PHC string format.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/angelmondragon/fixora-backend/pkg/config"
)

// OTPDigits is the length of completion codes.
const OTPDigits = 6

// ErrInvalidHash signals a stored hash this package cannot parse.
var ErrInvalidHash = errors.New("invalid argon2id hash")

var b64 = base64.RawStdEncoding

// GenerateOTP returns a uniformly random zero-padded numeric code.
func GenerateOTP(digits int) (string, error) {
	if digits <= 0 || digits > 12 {
		return "", fmt.Errorf("invalid otp length %d", digits)
	}
	upper := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

// argonParams are embedded in every hash so verification never depends on
// the current configuration.
type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
	saltLen uint32
	keyLen  uint32
}

// CodeHasher hashes completion codes with the configured cost.
type CodeHasher struct {
	params argonParams
}

// NewCodeHasher clamps cfg into safe bounds.
func NewCodeHasher(cfg config.ArgonConfig) *CodeHasher {
	return &CodeHasher{params: argonParams{
		memory:  uint32(clamp(cfg.MemoryKB, 8, 512*1024)),
		time:    uint32(clamp(cfg.Time, 1, 10)),
		threads: uint8(clamp(cfg.Parallelism, 1, 255)),
		saltLen: uint32(clamp(cfg.SaltLen, 8, 64)),
		keyLen:  uint32(clamp(cfg.KeyLen, 16, 64)),
	}}
}

// Hash returns $argon2id$v=19$m=..,t=..,p=..$salt$key for code.
func (h *CodeHasher) Hash(code string) (string, error) {
	if code == "" {
		return "", errors.New("code cannot be empty")
	}
	p := h.params
	salt := make([]byte, p.saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(code), salt, p.time, p.memory, p.threads, p.keyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads, b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Verify reports whether code matches encoded, in constant time.
func (h *CodeHasher) Verify(code, encoded string) (bool, error) {
	p, salt, want, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(code), salt, p.time, p.memory, p.threads, p.keyLen)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// HashOTP hashes code with a one-off CodeHasher.
func HashOTP(code string, cfg config.ArgonConfig) (string, error) {
	return NewCodeHasher(cfg).Hash(code)
}

// VerifyOTP checks code against a stored hash; the hash carries its own cost.
func VerifyOTP(code, encoded string) (bool, error) {
	return (&CodeHasher{}).Verify(code, encoded)
}

func decodeHash(encoded string) (argonParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return argonParams{}, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return argonParams{}, nil, nil, ErrInvalidHash
	}

	var p argonParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return argonParams{}, nil, nil, ErrInvalidHash
	}
	if p.memory == 0 || p.time == 0 || p.threads == 0 {
		return argonParams{}, nil, nil, ErrInvalidHash
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return argonParams{}, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return argonParams{}, nil, nil, ErrInvalidHash
	}
	p.saltLen = uint32(len(salt))
	p.keyLen = uint32(len(key))
	return p, salt, key, nil
}

func clamp(value, lo, hi int) int {
	return max(lo, min(value, hi))
}
