package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField is one parsed field of a cron expression.
type cronField struct {
	wildcard bool
	step     int
	values   []int
}

// matches reports whether the given value satisfies this field.
func (f cronField) matches(val int) bool {
	if f.wildcard {
		return f.step <= 1 || val%f.step == 0
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// parseCronField parses a single field: "*", "*/15", "0", or "1,15".
func parseCronField(field string) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}
	if rest, ok := strings.CutPrefix(field, "*/"); ok {
		step, err := strconv.Atoi(rest)
		if err != nil || step <= 0 {
			return cronField{}, fmt.Errorf("invalid cron step %q", field)
		}
		return cronField{wildcard: true, step: step}, nil
	}

	parts := strings.Split(field, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return cronField{}, fmt.Errorf("invalid cron field value %q: %w", p, err)
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

// cronSchedule holds five parsed cron fields.
type cronSchedule struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

// matchesTime reports whether the given time satisfies all five fields.
func (c cronSchedule) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// parseCron parses a 5-field cron expression.
func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	var sched cronSchedule
	var err error
	if sched.minute, err = parseCronField(fields[0]); err != nil {
		return cronSchedule{}, fmt.Errorf("parsing minute field: %w", err)
	}
	if sched.hour, err = parseCronField(fields[1]); err != nil {
		return cronSchedule{}, fmt.Errorf("parsing hour field: %w", err)
	}
	if sched.dayOfMonth, err = parseCronField(fields[2]); err != nil {
		return cronSchedule{}, fmt.Errorf("parsing day-of-month field: %w", err)
	}
	if sched.month, err = parseCronField(fields[3]); err != nil {
		return cronSchedule{}, fmt.Errorf("parsing month field: %w", err)
	}
	if sched.dayOfWeek, err = parseCronField(fields[4]); err != nil {
		return cronSchedule{}, fmt.Errorf("parsing day-of-week field: %w", err)
	}
	return sched, nil
}

// nextCronTime finds the next time after 'after' matching the expression,
// scanning minute boundaries up to one year ahead.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if sched.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching cron time found within one year for %q", cronExpr)
}
