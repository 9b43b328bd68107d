package pricing

import "testing"

func TestParseTable(t *testing.T) {
	table, err := Parse("10:1500,20:2800,30:4000,60:7500")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cents, ok := table.Price(30); !ok || cents != 4000 {
		t.Fatalf("price for 30 = %d, %v; want 4000, true", cents, ok)
	}
	durations := table.Durations()
	want := []int{10, 20, 30, 60}
	if len(durations) != len(want) {
		t.Fatalf("durations = %v, want %v", durations, want)
	}
	for i := range want {
		if durations[i] != want[i] {
			t.Fatalf("durations = %v, want %v", durations, want)
		}
	}
}

func TestParseEmptyUsesDefault(t *testing.T) {
	table, err := Parse("")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cents, ok := table.Price(10); !ok || cents != 1500 {
		t.Fatalf("default price for 10 = %d, %v", cents, ok)
	}
}

func TestParseRejectsMalformedEntries(t *testing.T) {
	for _, raw := range []string{"10", "abc:100", "10:xyz", "-5:100", "10:-1"} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("Parse(%q): expected error", raw)
		}
	}
}

func TestUnknownDuration(t *testing.T) {
	table := Default()
	if _, ok := table.Price(45); ok {
		t.Fatalf("expected 45 minutes to be unsupported")
	}
}
