package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrEmptyNaturalKey is returned when an observation carries no usable
// natural key and therefore cannot be resolved to a ledger.
var ErrEmptyNaturalKey = errors.New("natural key is empty")

// Resolve derives the stable entity identifier from an entity's natural key.
// The same natural key always maps to the same id, independent of transient
// URL changes upstream. The key is normalized (trimmed, lower-cased, inner
// whitespace collapsed) before hashing so cosmetic re-scrape differences do
// not fork ledgers.
func Resolve(naturalKey string) (string, error) {
	normalized := normalize(naturalKey)
	if normalized == "" {
		return "", ErrEmptyNaturalKey
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:]), nil
}

// ResolveRegion derives the region identifier from a geography tuple.
func ResolveRegion(locality, county, region string) (string, error) {
	key := strings.Join([]string{
		normalize(locality),
		normalize(county),
		normalize(region),
	}, "|")
	if key == "||" {
		return "", ErrEmptyNaturalKey
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]), nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
