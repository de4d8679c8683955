package display

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/daviddao/helpdesk/internal/types"
)

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a longer sentence", 10, "a longe..."},
		{"abcdef", 3, "abc"},
		{"écran cassé", 8, "écran..."},
	}
	for _, c := range cases {
		if got := Truncate(c.in, c.max); got != c.want {
			t.Errorf("Truncate(%q, %d): expected %q, got %q", c.in, c.max, c.want, got)
		}
	}
}

func TestTimeAgo(t *testing.T) {
	if TimeAgo(time.Time{}) != "" {
		t.Error("expected empty string for zero time")
	}
	if got := TimeAgo(time.Now().Add(-2 * time.Hour)); got != "2h ago" {
		t.Errorf("expected 2h ago, got %q", got)
	}
	if got := TimeAgo(time.Now().Add(-3 * 24 * time.Hour)); got != "3d ago" {
		t.Errorf("expected 3d ago, got %q", got)
	}
}

func TestTicketDetail(t *testing.T) {
	tk := &types.Ticket{
		ID:                  "TKT-20260301-1a2b3c4d-000042",
		ThreadID:            "t1",
		Status:              types.StatusOpen,
		Priority:            types.TierCritical,
		Category:            types.CategoryIncident,
		ResolvedSubcategory: "NETWORK",
		ResponsibleTeam:     "NOC",
		Requester:           types.Requester{Name: "Jane Doe", Email: "jane@example.com", Location: "Lyon"},
		Description:         "VPN drops every hour",
		CreatedAt:           time.Now(),
		Notes: []types.Note{
			{Reason: types.ReasonSubcategoryConfident, Text: "NETWORK", At: time.Now()},
			{Reason: types.ReasonPriorityRuleMatched, Text: "Site outage", At: time.Now()},
		},
	}
	var buf bytes.Buffer
	TicketDetail(&buf, tk)
	out := buf.String()
	for _, want := range []string{tk.ID, "Jane Doe <jane@example.com>", "NETWORK", "NOC", "VPN drops", "priority_rule_matched: Site outage", "└─"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q:\n%s", want, out)
		}
	}

	buf.Reset()
	TicketList(&buf, []*types.Ticket{tk, {ID: "TEMP-FIELDS-x", IsTemporary: true, Status: types.StatusStaged}})
	if lines := strings.Count(buf.String(), "\n"); lines != 2 {
		t.Errorf("expected two rows, got %d", lines)
	}
}
