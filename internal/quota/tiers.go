package quota

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTier = "free"
	Unlimited   = int64(-1)
)

// Tier holds the plan limits. A negative limit means unlimited.
type Tier struct {
	MaxDocuments     int64 `yaml:"max_documents" json:"maxDocuments"`
	MaxStorageBytes  int64 `yaml:"max_storage_bytes" json:"maxStorageBytes"`
	MaxQueriesPerDay int64 `yaml:"max_queries_per_day" json:"maxQueriesPerDay"`
}

// Limit returns the tier limit for kind.
func (t Tier) Limit(kind Kind) int64 {
	switch kind {
	case KindDocuments:
		return t.MaxDocuments
	case KindStorage:
		return t.MaxStorageBytes
	case KindQueries:
		return t.MaxQueriesPerDay
	}
	return 0
}

// Tiers maps tier name to limits.
type Tiers map[string]Tier

// DefaultTiers are the stock plans.
func DefaultTiers() Tiers {
	return Tiers{
		"free": {
			MaxDocuments:     50,
			MaxStorageBytes:  500 << 20,
			MaxQueriesPerDay: 1000,
		},
		"pro": {
			MaxDocuments:     1000,
			MaxStorageBytes:  10 << 30,
			MaxQueriesPerDay: 50000,
		},
		"enterprise": {
			MaxDocuments:     Unlimited,
			MaxStorageBytes:  Unlimited,
			MaxQueriesPerDay: Unlimited,
		},
	}
}

// Lookup resolves a tier by name, falling back to the default tier.
func (t Tiers) Lookup(name string) Tier {
	if tier, ok := t[name]; ok {
		return tier
	}
	return t[DefaultTier]
}

type tiersFile struct {
	Tiers map[string]Tier `yaml:"tiers"`
}

// LoadTiers reads tier overrides from a YAML file on top of DefaultTiers.
// An empty path returns the defaults.
func LoadTiers(path string) (Tiers, error) {
	tiers := DefaultTiers()
	if strings.TrimSpace(path) == "" {
		return tiers, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}
	return parseTiers(raw, tiers)
}

func parseTiers(raw []byte, base Tiers) (Tiers, error) {
	var file tiersFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse tiers file: %w", err)
	}
	for name, tier := range file.Tiers {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return nil, fmt.Errorf("tiers file: empty tier name")
		}
		base[name] = tier
	}
	if _, ok := base[DefaultTier]; !ok {
		return nil, fmt.Errorf("tiers file: %q tier is required", DefaultTier)
	}
	return base, nil
}
