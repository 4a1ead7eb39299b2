package store

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slugify lowercases name, strips accents and joins the remaining
// letter/digit runs with single hyphens. "Acme Corp." becomes "acme-corp".
func Slugify(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if hyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			hyphen = false
			continue
		}
		hyphen = true
	}
	return b.String()
}

// DatabaseName derives the tenant database name from its slug
func DatabaseName(prefix, slug string) string {
	name := prefix + strings.ReplaceAll(slug, "-", "_")
	if len(name) > 63 {
		name = strings.TrimRight(name[:63], "_")
	}
	return name
}

// DatabaseUser derives the dedicated database login for a tenant name
func DatabaseUser(name string) string {
	sum := md5.Sum([]byte(name))
	return "u" + hex.EncodeToString(sum[:])[:15]
}

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomPassword returns n random alphanumeric characters
func RandomPassword(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphanumeric[idx.Int64()]
	}
	return string(b), nil
}
