// Package rules loads the business rule catalog that maps incident
// subcategories to priority rules.
//
// Two layouts are accepted, in YAML or JSON:
//
//	rules:
//	  - subcategory: NETWORK
//	    tier: critical
//	    description: Site-wide outage
//	    team: NOC
//
// and the legacy sectioned layout, where the section suffix carries the tier:
//
//	{"data_buisness_rules": {"NETWORK_P1": [{"rule": "...", "affectation": "NOC"}]}}
package rules

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/daviddao/helpdesk/internal/types"
)

// Catalog is an immutable rule table keyed by upper-cased subcategory.
type Catalog struct {
	bySub   map[string][]types.Rule
	version string
}

type document struct {
	Rules  []flatRule              `yaml:"rules"`
	Legacy map[string][]legacyRule `yaml:"data_buisness_rules"`
}

type flatRule struct {
	Subcategory string `yaml:"subcategory"`
	Tier        string `yaml:"tier"`
	Description string `yaml:"description"`
	Team        string `yaml:"team"`
}

type legacyRule struct {
	Rule        string `yaml:"rule"`
	Affectation string `yaml:"affectation"`
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return c, nil
}

// Parse builds a catalog from YAML or JSON bytes.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	sum := blake3.Sum256(data)
	c := &Catalog{
		bySub:   make(map[string][]types.Rule),
		version: hex.EncodeToString(sum[:6]),
	}

	for i, r := range doc.Rules {
		tier := types.ParseTier(r.Tier)
		if tier == types.TierUnresolved {
			return nil, fmt.Errorf("rule %d (%s): unknown tier %q", i, r.Subcategory, r.Tier)
		}
		c.add(types.Rule{Subcategory: r.Subcategory, Tier: tier, Description: r.Description, Team: r.Team})
	}

	sections := make([]string, 0, len(doc.Legacy))
	for name := range doc.Legacy {
		sections = append(sections, name)
	}
	sort.Strings(sections)
	for _, name := range sections {
		sub, tier := splitSection(name)
		for _, r := range doc.Legacy[name] {
			c.add(types.Rule{Subcategory: sub, Tier: tier, Description: r.Rule, Team: r.Affectation})
		}
	}

	if len(c.bySub) == 0 {
		return nil, fmt.Errorf("no rules found")
	}
	return c, nil
}

// splitSection turns "NETWORK_P2" into (NETWORK, elevated). A section
// without a recognized tier suffix is treated as critical.
func splitSection(name string) (string, types.Tier) {
	if i := strings.LastIndex(name, "_"); i > 0 {
		if tier := types.ParseTier(name[i+1:]); tier != types.TierUnresolved {
			return name[:i], tier
		}
	}
	return name, types.TierCritical
}

func (c *Catalog) add(r types.Rule) {
	r.Subcategory = Normalize(r.Subcategory)
	if r.Subcategory == "" || strings.TrimSpace(r.Description) == "" {
		return
	}
	c.bySub[r.Subcategory] = append(c.bySub[r.Subcategory], r)
}

// Normalize upper-cases and trims a subcategory label.
func Normalize(label string) string {
	return strings.ToUpper(strings.TrimSpace(label))
}

// For returns the rules of a subcategory in catalog order.
func (c *Catalog) For(subcategory string) []types.Rule {
	rules := c.bySub[Normalize(subcategory)]
	out := make([]types.Rule, len(rules))
	copy(out, rules)
	return out
}

// Partition splits a subcategory's rules by tier.
func (c *Catalog) Partition(subcategory string) (critical, elevated []types.Rule) {
	for _, r := range c.bySub[Normalize(subcategory)] {
		switch r.Tier {
		case types.TierCritical:
			critical = append(critical, r)
		case types.TierElevated:
			elevated = append(elevated, r)
		}
	}
	return critical, elevated
}

// Has reports whether the catalog knows the subcategory.
func (c *Catalog) Has(subcategory string) bool {
	_, ok := c.bySub[Normalize(subcategory)]
	return ok
}

// Subcategories returns every known subcategory, sorted.
func (c *Catalog) Subcategories() []string {
	out := make([]string, 0, len(c.bySub))
	for s := range c.bySub {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Len returns the total number of rules.
func (c *Catalog) Len() int {
	n := 0
	for _, rs := range c.bySub {
		n += len(rs)
	}
	return n
}

// Version is a short content digest of the catalog source.
func (c *Catalog) Version() string {
	return c.version
}
