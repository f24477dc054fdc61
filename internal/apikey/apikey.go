// Package apikey generates, hashes and parses service API keys.
//
// A key looks like sk_live_<lookup>_<secret>. The sk_live_<lookup> part is
// stored in clear as an indexed prefix so a presented key is found with one
// query; only a salted PBKDF2-SHA256 hash of the whole key is persisted.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"custody/internal/apperr"
)

const (
	Scheme       = "sk_live_"
	lookupLength = 12
	secretLength = 32
	saltLength   = 16
	hashLength   = 32
	hashAlgo     = "pbkdf2_sha256"

	DefaultIterations = 100000
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var ErrMalformedKey = errors.New("malformed api key")

var expiryDurations = map[string]time.Duration{
	"1H": time.Hour,
	"1D": 24 * time.Hour,
	"1M": 30 * 24 * time.Hour,
	"1Y": 365 * 24 * time.Hour,
}

type Generated struct {
	Key    string
	Prefix string
}

func Generate() (Generated, error) {
	lookup, err := randomString(lookupLength)
	if err != nil {
		return Generated{}, err
	}
	secret, err := randomString(secretLength)
	if err != nil {
		return Generated{}, err
	}
	prefix := Scheme + lookup
	return Generated{Key: prefix + "_" + secret, Prefix: prefix}, nil
}

// ParsePrefix returns the lookup prefix of a presented key.
func ParsePrefix(raw string) (string, error) {
	if !strings.HasPrefix(raw, Scheme) {
		return "", ErrMalformedKey
	}
	rest := raw[len(Scheme):]
	lookup, secret, ok := strings.Cut(rest, "_")
	if !ok || len(lookup) != lookupLength || len(secret) != secretLength {
		return "", ErrMalformedKey
	}
	if !isAlphanumeric(lookup) || !isAlphanumeric(secret) {
		return "", ErrMalformedKey
	}
	return Scheme + lookup, nil
}

// ParseExpiry maps 1H, 1D, 1M and 1Y to durations. Codes are case sensitive.
func ParseExpiry(code string) (time.Duration, error) {
	d, ok := expiryDurations[code]
	if !ok {
		return 0, apperr.ErrInvalidExpiry
	}
	return d, nil
}

type Hasher struct {
	Iterations int
}

func NewHasher(iterations int) Hasher {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return Hasher{Iterations: iterations}
}

// Hash encodes as pbkdf2_sha256$<iterations>$<salt>$<hash>.
func (h Hasher) Hash(raw string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	sum := pbkdf2.Key([]byte(raw), salt, h.Iterations, hashLength, sha256.New)
	return fmt.Sprintf("%s$%d$%s$%s", hashAlgo, h.Iterations,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum)), nil
}

// Verify recomputes the hash with the stored salt and iteration count.
func (h Hasher) Verify(raw, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != hashAlgo {
		return false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false
	}
	got := pbkdf2.Key([]byte(raw), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func randomString(n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	// 248 is the largest multiple of 62 below 256, rejecting above it keeps the
	// distribution uniform.
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= 248 {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

func isAlphanumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(alphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}
