package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	maxPassBytes          = 1024
	algorithmID           = "argon2id"
	defaultMinimum        = 8
)

var (
	// ErrTooShort is returned when a password is below the configured minimum.
	ErrTooShort = errors.New("password too short")
	// ErrTooLong is returned when a password exceeds the hashing bound.
	ErrTooLong = errors.New("password too long")
	// ErrMalformedHash is returned when a stored hash cannot be parsed.
	ErrMalformedHash = errors.New("malformed password hash")
)

// Config holds the Argon2id cost parameters and the length policy.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MinLength counts runes. Zero means the package default of 8.
	MinLength int
}

// Argon2 hashes and verifies passwords as PHC strings.
type Argon2 struct {
	config Config
	rand   io.Reader
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, fmt.Errorf("password memory must be >= %d KB", minMemoryKB)
	case cfg.Time < 1:
		return nil, errors.New("password time must be >= 1")
	case cfg.Parallelism < 1:
		return nil, errors.New("password parallelism must be >= 1")
	case cfg.SaltLength < minSaltLength:
		return nil, fmt.Errorf("password salt length must be >= %d", minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return nil, fmt.Errorf("password key length must be >= %d", minKeyLength)
	case cfg.MinLength < 0:
		return nil, errors.New("password min length must be >= 0")
	}
	if cfg.MinLength == 0 {
		cfg.MinLength = defaultMinimum
	}
	return &Argon2{config: cfg, rand: rand.Reader}, nil
}

// CheckPolicy reports whether plain satisfies the length policy.
func (a *Argon2) CheckPolicy(plain string) error {
	if len(plain) > maxPassBytes {
		return ErrTooLong
	}
	if len([]rune(plain)) < a.config.MinLength {
		return ErrTooShort
	}
	return nil
}

// Hash returns the PHC encoding of plain under the configured parameters.
func (a *Argon2) Hash(plain string) (string, error) {
	if err := a.CheckPolicy(plain); err != nil {
		return "", err
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(a.rand, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	p := phc{
		memory:      a.config.Memory,
		time:        a.config.Time,
		parallelism: a.config.Parallelism,
		salt:        salt,
	}
	p.hash = derive(plain, p, a.config.KeyLength)
	return p.String(), nil
}

// Verify compares plain against encoded in constant time. Inputs over the
// length bound never match.
func (a *Argon2) Verify(plain, encoded string) (bool, error) {
	p, err := parse(encoded)
	if err != nil {
		return false, err
	}
	if len(plain) > maxPassBytes {
		return false, nil
	}
	computed := derive(plain, p, uint32(len(p.hash)))
	return subtle.ConstantTimeCompare(computed, p.hash) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the hasher's current configuration.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	p, err := parse(encoded)
	if err != nil {
		return false, err
	}
	return p.memory < a.config.Memory ||
		p.time < a.config.Time ||
		p.parallelism < a.config.Parallelism ||
		uint32(len(p.hash)) != a.config.KeyLength, nil
}

func derive(plain string, p phc, keyLen uint32) []byte {
	return argon2.IDKey([]byte(plain), p.salt, p.time, p.memory, p.parallelism, keyLen)
}

func (p phc) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version, p.memory, p.time, p.parallelism,
		base64.RawStdEncoding.EncodeToString(p.salt),
		base64.RawStdEncoding.EncodeToString(p.hash))
}

func parse(encoded string) (phc, error) {
	var p phc
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return p, ErrMalformedHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return p, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, parts[2])
	}

	seen := 0
	for _, kv := range strings.Split(parts[3], ",") {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return p, ErrMalformedHash
		}
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || v == 0 {
			return p, fmt.Errorf("%w: bad parameter %q", ErrMalformedHash, kv)
		}
		switch name {
		case "m":
			if v < uint64(minMemoryKB) {
				return p, fmt.Errorf("%w: memory below floor", ErrMalformedHash)
			}
			p.memory = uint32(v)
		case "t":
			p.time = uint32(v)
		case "p":
			if v > 255 {
				return p, fmt.Errorf("%w: parallelism out of range", ErrMalformedHash)
			}
			p.parallelism = uint8(v)
		default:
			return p, fmt.Errorf("%w: unknown parameter %q", ErrMalformedHash, name)
		}
		seen++
	}
	if seen != 3 || p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return p, ErrMalformedHash
	}

	var err error
	if p.salt, err = decodeB64(parts[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return p, fmt.Errorf("%w: salt", ErrMalformedHash)
	}
	if p.hash, err = decodeB64(parts[5]); err != nil || len(p.hash) == 0 {
		return p, fmt.Errorf("%w: hash", ErrMalformedHash)
	}
	return p, nil
}

// decodeB64 accepts both padded and unpadded standard base64.
func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
