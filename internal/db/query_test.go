package db

import (
	"strings"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestWhereBuilderEmpty(t *testing.T) {
	b := &whereBuilder{}
	if got := b.where(); got != "" {
		t.Errorf("expected empty WHERE for no clauses, got %q", got)
	}
	if len(b.args) != 0 {
		t.Errorf("expected no args, got %v", b.args)
	}
}

func TestWhereBuilderConjunction(t *testing.T) {
	b := &whereBuilder{}
	equal(b, "n.party_id", strPtr("party-1"))
	equal(b, "n.status", strPtr("unread"))

	want := " WHERE n.party_id = $1 AND n.status = $2"
	if got := b.where(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if len(b.args) != 2 || b.args[0] != "party-1" || b.args[1] != "unread" {
		t.Errorf("unexpected args: %v", b.args)
	}
}

func TestEqualSkipsNil(t *testing.T) {
	b := &whereBuilder{}
	equal[string](b, "n.party_id", nil)

	if len(b.clauses) != 0 {
		t.Errorf("nil value must contribute no clause, got %v", b.clauses)
	}
}

func TestContainsFoldLowercasesPattern(t *testing.T) {
	b := &whereBuilder{}
	containsFold(b, "t.title", strPtr("Payment Due"))

	want := "LOWER(t.title) LIKE $1"
	if b.clauses[0] != want {
		t.Errorf("expected %q, got %q", want, b.clauses[0])
	}
	if b.args[0] != "%payment due%" {
		t.Errorf("expected folded pattern, got %v", b.args[0])
	}
}

func TestTimeRangeBounds(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		from, to    *time.Time
		wantClauses []string
	}{
		{name: "both bounds", from: &from, to: &to, wantClauses: []string{"n.created_at >= $1", "n.created_at <= $2"}},
		{name: "from only", from: &from, wantClauses: []string{"n.created_at >= $1"}},
		{name: "to only", to: &to, wantClauses: []string{"n.created_at <= $1"}},
		{name: "neither", wantClauses: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &whereBuilder{}
			timeRange(b, "n.created_at", tt.from, tt.to)
			if len(b.clauses) != len(tt.wantClauses) {
				t.Fatalf("expected %d clauses, got %v", len(tt.wantClauses), b.clauses)
			}
			for i, want := range tt.wantClauses {
				if b.clauses[i] != want {
					t.Errorf("clause %d: expected %q, got %q", i, want, b.clauses[i])
				}
			}
		})
	}
}

func TestDayCoversWholeCalendarDay(t *testing.T) {
	// Mid-afternoon input must still bound the full UTC day.
	fixed := time.Date(2026, 3, 15, 14, 30, 45, 0, time.UTC)

	b := &whereBuilder{}
	day(b, "t.created_at", &fixed)

	if len(b.clauses) != 2 {
		t.Fatalf("expected 2 clauses, got %v", b.clauses)
	}

	dayStart := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	if !b.args[0].(time.Time).Equal(dayStart) {
		t.Errorf("expected lower bound %v, got %v", dayStart, b.args[0])
	}
	if !b.args[1].(time.Time).Equal(dayStart.Add(24 * time.Hour)) {
		t.Errorf("expected upper bound %v, got %v", dayStart.Add(24*time.Hour), b.args[1])
	}
}

func TestSeekAfterIsOneCompositeClause(t *testing.T) {
	cursor := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	b := &whereBuilder{}
	equal(b, "n.party_id", strPtr("party-1"))
	seekAfter(b, "n.created_at", "n.id", cursor, 42)

	want := "(n.created_at >= $2 AND n.id > $3)"
	if b.clauses[1] != want {
		t.Errorf("expected composite seek clause %q, got %q", want, b.clauses[1])
	}

	// The rendered WHERE must keep the seek parenthesized so the id
	// comparison cannot leak out of the timestamp tie-break.
	rendered := b.where()
	if !strings.Contains(rendered, "AND (n.created_at >= $2 AND n.id > $3)") {
		t.Errorf("unexpected WHERE rendering: %q", rendered)
	}
	if b.args[2] != int64(42) {
		t.Errorf("expected id arg 42, got %v", b.args[2])
	}
}
