package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// CronExpr is a parsed five-field cron expression with standard semantics:
// minute hour day-of-month month day-of-week. Day-of-month and day-of-week
// are OR'd when both are restricted, per convention.
type CronExpr struct {
	minute, hour, dom, month, dow map[int]bool
	domStar, dowStar              bool
}

type cronField struct {
	min, max int
	names    map[string]int
}

var cronFields = []cronField{
	{0, 59, nil},
	{0, 23, nil},
	{1, 31, nil},
	{1, 12, map[string]int{"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12}},
	{0, 6, map[string]int{"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6}},
}

// ParseCron validates and compiles a five-field expression. Invalid
// expressions are rejected at job creation.
func ParseCron(expr string) (*CronExpr, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return nil, titanerr.New(titanerr.KindValidation, "scheduler.ParseCron",
			fmt.Sprintf("expected 5 fields, got %d in %q", len(fields), expr))
	}
	sets := make([]map[int]bool, 5)
	for i, f := range fields {
		set, err := parseCronField(f, cronFields[i])
		if err != nil {
			return nil, titanerr.Wrap(titanerr.KindValidation, "scheduler.ParseCron",
				fmt.Sprintf("field %d of %q", i+1, expr), err)
		}
		sets[i] = set
	}
	return &CronExpr{
		minute: sets[0], hour: sets[1], dom: sets[2], month: sets[3], dow: sets[4],
		domStar: fields[2] == "*", dowStar: fields[4] == "*",
	}, nil
}

func parseCronField(f string, spec cronField) (map[int]bool, error) {
	set := make(map[int]bool)
	for _, part := range strings.Split(f, ",") {
		rangePart := part
		step := 1
		if idx := strings.Index(part, "/"); idx != -1 {
			rangePart = part[:idx]
			var err error
			step, err = strconv.Atoi(part[idx+1:])
			if err != nil || step <= 0 {
				return nil, fmt.Errorf("bad step in %q", part)
			}
		}
		lo, hi := spec.min, spec.max
		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			bounds := strings.SplitN(rangePart, "-", 2)
			var err1, err2 error
			lo, err1 = parseCronValue(bounds[0], spec)
			hi, err2 = parseCronValue(bounds[1], spec)
			if err1 != nil || err2 != nil || lo > hi {
				return nil, fmt.Errorf("bad range %q", rangePart)
			}
		default:
			v, err := parseCronValue(rangePart, spec)
			if err != nil {
				return nil, err
			}
			lo, hi = v, v
		}
		if lo < spec.min || hi > spec.max {
			return nil, fmt.Errorf("value out of range in %q", part)
		}
		for v := lo; v <= hi; v += step {
			set[v] = true
		}
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("empty field %q", f)
	}
	return set, nil
}

func parseCronValue(s string, spec cronField) (int, error) {
	if spec.names != nil {
		if v, ok := spec.names[strings.ToLower(s)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad value %q", s)
	}
	// cron allows 7 for Sunday in the day-of-week field
	if spec.min == 0 && spec.max == 6 && v == 7 {
		v = 0
	}
	return v, nil
}

// matches reports whether t satisfies the expression.
func (c *CronExpr) matches(t time.Time) bool {
	if !c.minute[t.Minute()] || !c.hour[t.Hour()] || !c.month[int(t.Month())] {
		return false
	}
	domOK := c.dom[t.Day()]
	dowOK := c.dow[int(t.Weekday())]
	switch {
	case c.domStar && c.dowStar:
		return true
	case c.domStar:
		return dowOK
	case c.dowStar:
		return domOK
	default:
		return domOK || dowOK
	}
}

// Next returns the first instant strictly after from that matches, scanning
// minute granularity for up to five years.
func (c *CronExpr) Next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(5, 0, 0)
	for t.Before(limit) {
		if c.matches(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}
}
