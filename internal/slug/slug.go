// Package slug derives URL-safe identifiers from display names. Slugs
// are used as tag ids and as read-model document ids, so derivation must
// be deterministic.
package slug

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// Make converts a display name to a slug.
// Examples: "Dividend Payment" → "dividend-payment", "Café Fuel" → "cafe-fuel"
func Make(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("name cannot be empty")
	}

	// Strip combining marks so accented characters fold to ASCII
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	normalized, _, err := transform.String(t, name)
	if err != nil {
		return "", fmt.Errorf("failed to normalize %q: %w", name, err)
	}

	s := strings.ToLower(normalized)
	s = nonAlphanumeric.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	if s == "" {
		return "", fmt.Errorf("name %q contains no alphanumeric characters", name)
	}
	return s, nil
}

// AccountDoc builds the deterministic read-model document id for an
// account. Format: "{userID}-{accountID}".
func AccountDoc(userID, accountID string) string {
	return fmt.Sprintf("%s-%s", userID, accountID)
}

// SummaryDoc builds the deterministic read-model document id for a
// user's cached summary.
func SummaryDoc(userID string) string {
	return fmt.Sprintf("summary-%s", userID)
}
