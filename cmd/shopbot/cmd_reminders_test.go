package main

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"shopbot/pkg/cron"
)

func TestAddReminderKeepsRecurringJobs(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "jobs.json")
	cs := cron.NewService(storePath, nil)
	now := time.Now()

	weekly, err := cron.ParseSchedule("0 10 * * 1", "UTC", now)
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	job, err := addReminder(cs, "33600000000", "Nouveautés de la semaine", weekly)
	if err != nil {
		t.Fatalf("addReminder: %v", err)
	}
	if job.DeleteAfterRun || job.Payload.Kind != cron.PayloadMessage || job.State.NextRunAtMS == nil {
		t.Fatalf("unexpected recurring job: %+v", job)
	}
	if got := describeSchedule(job.Schedule); got != `cron "0 10 * * 1" in UTC` {
		t.Fatalf("describeSchedule = %q", got)
	}

	once, err := cron.ParseSchedule("in 2h", "", now)
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	job, err = addReminder(cs, "33600000000", "Votre commande est prête", once)
	if err != nil {
		t.Fatalf("addReminder: %v", err)
	}
	if !job.DeleteAfterRun || !strings.HasPrefix(describeSchedule(job.Schedule), "once at ") {
		t.Fatalf("one-shot job should be deleted after running: %+v", job)
	}

	every, _ := cron.ParseSchedule("every 72h", "", now)
	if got := describeSchedule(every); got != "every 72h0m0s" {
		t.Fatalf("describeSchedule = %q", got)
	}
	if _, err := addReminder(cs, "33600000000", "", every); err == nil {
		t.Fatalf("empty message should be rejected")
	}

	reopened := cron.NewService(storePath, nil)
	if jobs := reopened.ListJobs(true); len(jobs) != 2 {
		t.Fatalf("store should hold both jobs, got %d", len(jobs))
	}
}
