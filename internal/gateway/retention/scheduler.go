// Package retention prunes aged completion logs on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/keywheel/keywheel/internal/shared/database"
)

// Scheduler runs the log prune job on a standard 5-field cron schedule.
type Scheduler struct {
	db       *database.DB
	schedule string
	days     int
	cron     *cron.Cron
}

// New validates the schedule and retention window so misconfiguration fails
// at startup rather than at the first tick.
func New(db *database.DB, schedule string, days int) (*Scheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	if days <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", days)
	}

	return &Scheduler{
		db:       db,
		schedule: schedule,
		days:     days,
		cron:     cron.New(),
	}, nil
}

// Start begins the schedule. The scheduler shuts itself down when ctx is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.prune(ctx) }); err != nil {
		return fmt.Errorf("adding retention job: %w", err)
	}

	s.cron.Start()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop halts the schedule and waits for any running prune to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) prune(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.days)

	deleted, err := s.db.PruneLogsBefore(ctx, cutoff)
	if err != nil {
		log.Printf("Retention prune failed: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Retention pruned %d completion logs older than %s", deleted, cutoff.Format("2006-01-02"))
	}
}
