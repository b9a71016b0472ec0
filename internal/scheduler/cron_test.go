package scheduler

import (
	"testing"
	"time"
)

func TestParseCronValid(t *testing.T) {
	cases := []string{
		"* * * * *",
		"0 9 * * 1-5",
		"*/15 * * * *",
		"30 4 1,15 * *",
		"0 0 * jan mon",
		"0 12 * * 7", // 7 == sunday
	}
	for _, expr := range cases {
		if _, err := ParseCron(expr); err != nil {
			t.Errorf("ParseCron(%q): %v", expr, err)
		}
	}
}

func TestParseCronInvalid(t *testing.T) {
	cases := []string{
		"",
		"* * * *",
		"* * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"a * * * *",
		"*/0 * * * *",
		"5-1 * * * *",
	}
	for _, expr := range cases {
		if _, err := ParseCron(expr); err == nil {
			t.Errorf("ParseCron(%q) accepted, want error", expr)
		}
	}
}

func TestCronNext(t *testing.T) {
	base := time.Date(2026, 8, 5, 10, 30, 0, 0, time.UTC) // a Wednesday

	cases := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", base.Add(time.Minute)},
		{"0 11 * * *", time.Date(2026, 8, 5, 11, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 8, 5, 10, 45, 0, 0, time.UTC)},
		{"0 9 * * mon", time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)},
		{"30 4 1 * *", time.Date(2026, 9, 1, 4, 30, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		expr, err := ParseCron(tc.expr)
		if err != nil {
			t.Fatalf("ParseCron(%q): %v", tc.expr, err)
		}
		got := expr.Next(base)
		if !got.Equal(tc.want) {
			t.Errorf("Next(%q, %s) = %s, want %s", tc.expr, base, got, tc.want)
		}
	}
}

func TestCronDomDowUnion(t *testing.T) {
	// Both restricted: fires on the 1st OR on Mondays.
	expr, err := ParseCron("0 0 1 * mon")
	if err != nil {
		t.Fatal(err)
	}
	monday := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	first := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if !expr.matches(monday) {
		t.Error("monday should match dom/dow union")
	}
	if !expr.matches(first) {
		t.Error("the 1st should match dom/dow union")
	}
}
