// Package rules applies substring-match categorization rules to
// transactions.
package rules

import (
	"fmt"
	"strings"

	"github.com/rumor-ml/bankfeed/internal/domain"
)

// Engine matches rules against transaction descriptions and applies
// their tags. Stateless; rules are passed per call because the
// applicable set depends on the account.
type Engine struct{}

// NewEngine creates a rules engine
func NewEngine() *Engine {
	return &Engine{}
}

// Matches reports whether the rule's pattern occurs in the description.
// Matching is case-insensitive ordinal substring.
func (e *Engine) Matches(rule *domain.Rule, description string) bool {
	normalizedDesc := strings.ToLower(strings.TrimSpace(description))
	normalizedPattern := strings.ToLower(strings.TrimSpace(rule.Contains))
	return strings.Contains(normalizedDesc, normalizedPattern)
}

// Apply tags each transaction with the union of tag ids from every
// matching rule. Tags are additive: applying the same rules twice, or
// applying them in any order, yields the same tag sets. Returns the
// number of transactions that gained at least one tag.
func (e *Engine) Apply(rules []*domain.Rule, txns []*domain.Transaction) (int, error) {
	tagged := 0
	for _, txn := range txns {
		grew := false
		for _, rule := range rules {
			if !e.Matches(rule, txn.Description) {
				continue
			}
			for _, tagID := range rule.TagIDs() {
				if txn.HasTag(tagID) {
					continue
				}
				if err := txn.AddTag(tagID); err != nil {
					return tagged, fmt.Errorf("failed to tag transaction %s via rule %s: %w", txn.ID, rule.ID, err)
				}
				grew = true
			}
		}
		if grew {
			tagged++
		}
	}
	return tagged, nil
}
