package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/daviddao/helpdesk/internal/types"
)

const flatYAML = `
rules:
  - subcategory: network
    tier: critical
    description: The whole site has lost connectivity
    team: NOC
  - subcategory: NETWORK
    tier: elevated
    description: A single workstation cannot reach the intranet
    team: Desk
  - subcategory: printer
    tier: P2
    description: Printer jams
    team: Facilities
`

const legacyJSON = `{
  "data_buisness_rules": {
    "MESSAGERIE_P1": [
      {"rule": "Messagerie indisponible pour tout le site", "affectation": "N2-Messagerie"}
    ],
    "MESSAGERIE_P2": [
      {"rule": "Un utilisateur ne reçoit plus ses mails", "affectation": "N1"},
      {"rule": "Boîte pleine", "affectation": "N1"}
    ],
    "POSTE_TRAVAIL": [
      {"rule": "Poste bloqué", "affectation": "Proximite"}
    ]
  }
}`

func TestParseFlat(t *testing.T) {
	c, err := Parse([]byte(flatYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := c.Subcategories(); len(got) != 2 || got[0] != "NETWORK" || got[1] != "PRINTER" {
		t.Errorf("expected [NETWORK PRINTER], got %v", got)
	}
	crit, elev := c.Partition("Network")
	if len(crit) != 1 || len(elev) != 1 {
		t.Fatalf("expected 1 critical and 1 elevated, got %d/%d", len(crit), len(elev))
	}
	if crit[0].Team != "NOC" {
		t.Errorf("expected team NOC, got %q", crit[0].Team)
	}
	if c.Len() != 3 {
		t.Errorf("expected 3 rules, got %d", c.Len())
	}
}

func TestParseLegacy(t *testing.T) {
	c, err := Parse([]byte(legacyJSON))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	crit, elev := c.Partition("messagerie")
	if len(crit) != 1 || len(elev) != 2 {
		t.Fatalf("expected 1 critical and 2 elevated, got %d/%d", len(crit), len(elev))
	}
	if elev[0].Team != "N1" || elev[0].Tier != types.TierElevated {
		t.Errorf("unexpected elevated rule %+v", elev[0])
	}
	// Underscore in the name without a tier suffix defaults to critical.
	if rules := c.For("POSTE_TRAVAIL"); len(rules) != 1 || rules[0].Tier != types.TierCritical {
		t.Errorf("expected one critical POSTE_TRAVAIL rule, got %v", rules)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", "rules: []\n"},
		{"bad tier", "rules:\n  - subcategory: X\n    tier: urgent\n    description: d\n"},
		{"bad yaml", "rules: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestForUnknownIsEmpty(t *testing.T) {
	c, _ := Parse([]byte(flatYAML))
	if rules := c.For("SOFTWARE"); len(rules) != 0 {
		t.Errorf("expected no rules, got %v", rules)
	}
	if c.Has("SOFTWARE") {
		t.Error("expected SOFTWARE unknown")
	}
}

func TestVersionTracksContent(t *testing.T) {
	a, _ := Parse([]byte(flatYAML))
	b, _ := Parse([]byte(flatYAML + "\n"))
	again, _ := Parse([]byte(flatYAML))
	if a.Version() != again.Version() {
		t.Error("expected identical content to share a version")
	}
	if a.Version() == b.Version() {
		t.Error("expected different content to change the version")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	os.WriteFile(path, []byte(legacyJSON), 0o644)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !c.Has("MESSAGERIE") {
		t.Error("expected MESSAGERIE")
	}
}
