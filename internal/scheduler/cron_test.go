package scheduler

import (
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

func TestCalculateNextDueCron(t *testing.T) {
	// 15 февраля 2026, 10:30 UTC
	from := time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		cronExpr string
		timezone string
		want     time.Time
	}{
		{
			name:     "daily at 9am UTC",
			cronExpr: "0 9 * * *",
			timezone: "UTC",
			want:     time.Date(2026, 2, 16, 9, 0, 0, 0, time.UTC),
		},
		{
			name:     "every hour",
			cronExpr: "0 * * * *",
			timezone: "UTC",
			want:     time.Date(2026, 2, 15, 11, 0, 0, 0, time.UTC),
		},
		{
			name:     "daily at 9am Moscow (UTC+3)",
			cronExpr: "0 9 * * *",
			timezone: "Europe/Moscow",
			want:     time.Date(2026, 2, 16, 6, 0, 0, 0, time.UTC),
		},
		{
			name:     "invalid timezone falls back to UTC",
			cronExpr: "0 12 * * *",
			timezone: "Not/AZone",
			want:     time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := &domain.Schedule{CronExpr: tt.cronExpr, Timezone: tt.timezone}
			got, err := CalculateNextDue(sched, from)
			if err != nil {
				t.Fatalf("CalculateNextDue() error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("CalculateNextDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateNextDueInterval(t *testing.T) {
	from := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
	sched := &domain.Schedule{IntervalSec: 3600, Timezone: "UTC"}

	got, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue() error: %v", err)
	}
	want := from.Add(time.Hour)
	if !got.Equal(want) {
		t.Errorf("CalculateNextDue() = %v, want %v", got, want)
	}
}

func TestCalculateNextDueEmptySchedule(t *testing.T) {
	sched := &domain.Schedule{Timezone: "UTC"}
	if _, err := CalculateNextDue(sched, time.Now()); err == nil {
		t.Error("schedule without cron and interval must be rejected")
	}
}

func TestValidateCronExpr(t *testing.T) {
	if err := ValidateCronExpr("*/5 * * * *"); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := ValidateCronExpr("not a cron"); err == nil {
		t.Error("invalid expression accepted")
	}
}
