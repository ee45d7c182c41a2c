// Package crypto provides password hashing shared with the frontend.
package crypto

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/scrypt"
)

// hostPasswordHashCache caches HashHostPassword results keyed by "password:utcDay".
var hostPasswordHashCache sync.Map

// Scrypt parameters matching the frontend implementation.
// N=16384 (2^14), r=8, p=1 are recommended for interactive logins.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// HashWithScrypt hashes an input string using scrypt with the given salt.
// The salt is lowercased before use. Returns hex-encoded hash.
func HashWithScrypt(input, salt string) (string, error) {
	saltBytes := []byte(strings.ToLower(salt))
	dk, err := scrypt.Key([]byte(input), saltBytes, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("scrypt key derivation failed: %w", err)
	}
	return hex.EncodeToString(dk), nil
}

// DaySalt is the salt the frontend uses: the UTC day of month.
func DaySalt(now time.Time) string {
	return strconv.Itoa(now.UTC().Day())
}

// HashHostPassword hashes the configured host portal password for the day of now.
func HashHostPassword(password string, now time.Time) (string, error) {
	salt := DaySalt(now)
	cacheKey := password + ":" + salt

	if cached, ok := hostPasswordHashCache.Load(cacheKey); ok {
		return cached.(string), nil
	}

	hash, err := HashWithScrypt(password, salt)
	if err != nil {
		return "", err
	}

	hostPasswordHashCache.Store(cacheKey, hash)
	return hash, nil
}

// VerifyHostPassword reports whether hash matches password for the day of now.
func VerifyHostPassword(password, hash string, now time.Time) (bool, error) {
	if hash == "" {
		return false, nil
	}
	expected, err := HashHostPassword(password, now)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(hash))) == 1, nil
}
