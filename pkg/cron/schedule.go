package cron

import (
	"fmt"
	"strings"
	"time"

	robfig "github.com/robfig/cron/v3"
)

const (
	KindAt    = "at"
	KindEvery = "every"
	KindCron  = "cron"
)

type Schedule struct {
	Kind    string `json:"kind"`
	AtMS    *int64 `json:"atMs,omitempty"`
	EveryMS *int64 `json:"everyMs,omitempty"`
	Expr    string `json:"expr,omitempty"`
	TZ      string `json:"tz,omitempty"`
}

// At is a one-shot schedule firing at t.
func At(t time.Time) Schedule {
	ms := t.UnixMilli()
	return Schedule{Kind: KindAt, AtMS: &ms}
}

func Every(d time.Duration) Schedule {
	ms := d.Milliseconds()
	return Schedule{Kind: KindEvery, EveryMS: &ms}
}

// ParseSchedule reads the schedule forms accepted on the command line:
// "in 2h" and RFC 3339 timestamps fire once, "every 30m" repeats on a fixed
// interval, and anything else is a five-field cron expression evaluated in tz.
func ParseSchedule(spec, tz string, now time.Time) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Schedule{}, fmt.Errorf("empty schedule")
	}
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return Schedule{}, fmt.Errorf("unknown time zone %q: %w", tz, err)
		}
	}

	lower := strings.ToLower(spec)
	var sched Schedule
	switch {
	case strings.HasPrefix(lower, "in "):
		d, err := time.ParseDuration(strings.TrimSpace(spec[3:]))
		if err != nil || d <= 0 {
			return Schedule{}, fmt.Errorf("invalid delay in %q", spec)
		}
		sched = At(now.Add(d))
	case strings.HasPrefix(lower, "every "), strings.HasPrefix(lower, "@every "):
		d, err := time.ParseDuration(strings.TrimSpace(spec[strings.IndexByte(spec, ' ')+1:]))
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid interval in %q", spec)
		}
		sched = Every(d)
	default:
		if t, err := time.Parse(time.RFC3339, spec); err == nil {
			if !t.After(now) {
				return Schedule{}, fmt.Errorf("time %s is in the past", spec)
			}
			sched = At(t)
		} else {
			sched = Schedule{Kind: KindCron, Expr: spec, TZ: tz}
		}
	}
	if err := sched.Validate(); err != nil {
		return Schedule{}, err
	}
	return sched, nil
}

// Validate checks that the schedule can produce a run time.
func (s Schedule) Validate() error {
	switch s.Kind {
	case KindAt:
		if s.AtMS == nil {
			return fmt.Errorf("at schedule requires atMs")
		}
	case KindEvery:
		if s.EveryMS == nil || *s.EveryMS <= 0 {
			return fmt.Errorf("every schedule requires a positive everyMs")
		}
	case KindCron:
		if _, err := parseCronExpr(s.Expr, s.TZ); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.Expr, err)
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

func parseCronExpr(expr, tz string) (robfig.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if tz != "" && !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		expr = "CRON_TZ=" + tz + " " + expr
	}
	return robfig.ParseStandard(expr)
}

// nextRunAfter returns the next run strictly after nowMS, or nil when the
// schedule is exhausted. baseMS anchors interval schedules.
func nextRunAfter(s *Schedule, baseMS, nowMS int64) *int64 {
	switch s.Kind {
	case KindAt:
		if s.AtMS != nil && *s.AtMS > nowMS {
			return s.AtMS
		}
		return nil
	case KindEvery:
		if s.EveryMS == nil || *s.EveryMS <= 0 {
			return nil
		}
		next := computeAlignedEveryNext(baseMS, nowMS, *s.EveryMS)
		return &next
	case KindCron:
		sched, err := parseCronExpr(s.Expr, s.TZ)
		if err != nil {
			return nil
		}
		next := sched.Next(time.UnixMilli(nowMS))
		if next.IsZero() {
			return nil
		}
		ms := next.UnixMilli()
		return &ms
	}
	return nil
}

func computeAlignedEveryNext(baseMS, nowMS, intervalMS int64) int64 {
	if intervalMS <= 0 {
		return nowMS
	}
	next := baseMS + intervalMS
	if next > nowMS {
		return next
	}
	miss := (nowMS-next)/intervalMS + 1
	return next + miss*intervalMS
}
