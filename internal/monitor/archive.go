package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/liqbot/internal/domain"
)

// ArchiveJob moves execution history older than the retention window to
// cold storage on a cron schedule.
type ArchiveJob struct {
	archiver  domain.Archiver
	retention time.Duration
	cron      string
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiveJob creates an ArchiveJob. cron uses the five-field
// "minute hour day-of-month month day-of-week" form.
func NewArchiveJob(archiver domain.Archiver, retention time.Duration, cron string, logger *slog.Logger) (*ArchiveJob, error) {
	if _, err := parseCron(cron); err != nil {
		return nil, fmt.Errorf("monitor: archive cron %q: %w: %v", cron, domain.ErrConfiguration, err)
	}
	return &ArchiveJob{
		archiver:  archiver,
		retention: retention,
		cron:      cron,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}, nil
}

// RunOnce archives everything older than the retention window.
func (j *ArchiveJob) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.retention)
	n, err := j.archiver.ArchiveExecutions(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("monitor: archive executions before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	j.logger.InfoContext(ctx, "archiver: run complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("archived", n),
	)
	return n, nil
}

// Run waits for each cron trigger and archives until ctx is cancelled.
// A failed run is logged and retried at the next trigger.
func (j *ArchiveJob) Run(ctx context.Context) error {
	for {
		next, err := nextCronTime(j.cron, j.now().UTC())
		if err != nil {
			return fmt.Errorf("monitor: archive cron: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.logger.ErrorContext(ctx, "archiver: run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField matches one field: a wildcard, a comma list or a */step.
type cronField struct {
	wildcard bool
	step     int
	values   []int
}

func (f cronField) matches(v int) bool {
	if f.wildcard {
		return true
	}
	if f.step > 0 {
		return v%f.step == 0
	}
	for _, x := range f.values {
		if x == v {
			return true
		}
	}
	return false
}

func parseCronField(field string) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}
	if rest, ok := strings.CutPrefix(field, "*/"); ok {
		step, err := strconv.Atoi(rest)
		if err != nil || step <= 0 {
			return cronField{}, fmt.Errorf("invalid step %q", field)
		}
		return cronField{step: step}, nil
	}
	parts := strings.Split(field, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return cronField{}, fmt.Errorf("invalid value %q: %w", p, err)
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

type cronSpec [5]cronField

func (c cronSpec) matches(t time.Time) bool {
	return c[0].matches(t.Minute()) &&
		c[1].matches(t.Hour()) &&
		c[2].matches(t.Day()) &&
		c[3].matches(int(t.Month())) &&
		c[4].matches(int(t.Weekday()))
}

func parseCron(expr string) (cronSpec, error) {
	var spec cronSpec
	fields := strings.Fields(expr)
	if len(fields) != len(spec) {
		return spec, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	for i, f := range fields {
		parsed, err := parseCronField(f)
		if err != nil {
			return spec, fmt.Errorf("field %d: %w", i+1, err)
		}
		spec[i] = parsed
	}
	return spec, nil
}

// nextCronTime returns the first minute after 'after' matching expr,
// searching at most a year ahead.
func nextCronTime(expr string, after time.Time) (time.Time, error) {
	spec, err := parseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if spec.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching time within a year for %q", expr)
}
