package rules

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/bankfeed/internal/domain"
	"github.com/rumor-ml/bankfeed/internal/slug"
)

// seedRule is one entry in a YAML seed file
type seedRule struct {
	Account     string   `yaml:"account"`
	Contains    string   `yaml:"contains"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
}

// seedFile represents the top-level YAML structure
type seedFile struct {
	Rules []seedRule `yaml:"rules"`
}

// ParseSeed parses and validates a YAML rule seed document. Each entry
// needs an account id, a non-empty pattern and at least one tag. Rule
// ids are generated.
func ParseSeed(data []byte) ([]*domain.Rule, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse YAML rules (check syntax, indentation, and field names): %w", err)
	}

	rules := make([]*domain.Rule, 0, len(seed.Rules))
	for i, entry := range seed.Rules {
		if strings.TrimSpace(entry.Account) == "" {
			return nil, fmt.Errorf("rule %d (%s): account cannot be empty", i, entry.Contains)
		}
		if strings.TrimSpace(entry.Contains) == "" {
			return nil, fmt.Errorf("rule %d (%s): contains pattern cannot be empty", i, entry.Description)
		}
		if len(entry.Tags) == 0 {
			return nil, fmt.Errorf("rule %d (%s): must apply at least one tag", i, entry.Contains)
		}
		// Seed files carry display names; tags are stored as slugs
		tagIDs := make([]string, 0, len(entry.Tags))
		for _, tag := range entry.Tags {
			tagID, err := slug.Make(tag)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): invalid tag %q: %w", i, entry.Contains, tag, err)
			}
			tagIDs = append(tagIDs, tagID)
		}

		rule, err := domain.NewRule(uuid.NewString(), entry.Account, entry.Contains, tagIDs)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, entry.Contains, err)
		}
		rule.Description = entry.Description
		rules = append(rules, rule)
	}

	return rules, nil
}

// LoadSeedFile loads a rule seed document from a filesystem path
func LoadSeedFile(path string) ([]*domain.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	rules, err := ParseSeed(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules from %q: %w", path, err)
	}
	return rules, nil
}
