// Package fingerprint derives content-addressed identities for parsed
// statement lines via SHA256 hashing.
//
// The fingerprint input is the same for every institution: statement
// date, normalized description, signed amount, and the statement's
// reported running balance (empty when the format has none). Changing
// this field set or its formatting breaks dedup idempotence for
// previously staged data, so it is a breaking change.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Line computes the fingerprint of one parsed statement line.
// Format: SHA256("{YYYY-MM-DD}|{normalizedDescription}|{amount}|{balance}")
// Amount and balance are rendered with two decimal places; the
// description is lowercased and trimmed. Balance renders as the empty
// string when the statement format reports none.
func Line(date time.Time, description string, amount decimal.Decimal, balance decimal.NullDecimal) string {
	normalizedDesc := strings.ToLower(strings.TrimSpace(description))

	balanceStr := ""
	if balance.Valid {
		balanceStr = balance.Decimal.StringFixed(2)
	}

	input := fmt.Sprintf("%s|%s|%s|%s", date.Format("2006-01-02"), normalizedDesc, amount.StringFixed(2), balanceStr)

	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}
