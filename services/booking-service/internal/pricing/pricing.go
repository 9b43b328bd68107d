package pricing

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Table maps a supported session duration (minutes) to its price in cents.
// It is a fixed small enumeration loaded at startup.
type Table map[int]int64

func Default() Table {
	return Table{10: 1500, 20: 2800, 30: 4000, 60: 7500}
}

// Parse reads a "minutes:cents,minutes:cents" string, e.g.
// "10:1500,20:2800,30:4000,60:7500".
func Parse(raw string) (Table, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Default(), nil
	}
	table := Table{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		minutesStr, centsStr, found := strings.Cut(part, ":")
		if !found {
			return nil, fmt.Errorf("invalid price entry %q", part)
		}
		minutes, err := strconv.Atoi(strings.TrimSpace(minutesStr))
		if err != nil || minutes <= 0 {
			return nil, fmt.Errorf("invalid duration in price entry %q", part)
		}
		cents, err := strconv.ParseInt(strings.TrimSpace(centsStr), 10, 64)
		if err != nil || cents < 0 {
			return nil, fmt.Errorf("invalid price in price entry %q", part)
		}
		table[minutes] = cents
	}
	if len(table) == 0 {
		return Default(), nil
	}
	return table, nil
}

// Durations returns the supported durations in ascending order.
func (t Table) Durations() []int {
	out := make([]int, 0, len(t))
	for d := range t {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

func (t Table) Price(minutes int) (int64, bool) {
	cents, ok := t[minutes]
	return cents, ok
}
