package engine

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-engine/internal/pkg/distlock"
)

// MatcherConfig tunes the auto-enrollment sweep.
type MatcherConfig struct {
	Interval      time.Duration // sweep period
	BatchPerSweep int           // max contacts enrolled per campaign per sweep
}

func (c *MatcherConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.BatchPerSweep <= 0 {
		c.BatchPerSweep = 500
	}
}

// Matcher periodically enrolls matching contacts into auto-enroll
// campaigns. A distributed lock keeps concurrent sweeps from doing the
// same work twice; correctness never depends on it, because enrollment
// itself is idempotent.
type Matcher struct {
	store   *Store
	planner *Planner
	lock    distlock.DistLock
	cfg     MatcherConfig

	running bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewMatcher(store *Store, planner *Planner, redisClient *redis.Client, db *sql.DB, cfg MatcherConfig) *Matcher {
	cfg.applyDefaults()
	return &Matcher{
		store:   store,
		planner: planner,
		lock:    distlock.NewLock(redisClient, db, "outreach:matcher:sweep", cfg.Interval),
		cfg:     cfg,
	}
}

// SweepStats summarizes one matcher pass.
type SweepStats struct {
	Campaigns int `json:"campaigns"`
	Enrolled  int `json:"enrolled"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Start launches the sweep loop.
func (m *Matcher) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	log.Printf("[Matcher] starting (interval=%s)", m.cfg.Interval)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		m.runLocked(ctx)
		for {
			select {
			case <-ctx.Done():
				log.Printf("[Matcher] stopping")
				return
			case <-ticker.C:
				m.runLocked(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-progress sweep.
func (m *Matcher) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Matcher) runLocked(ctx context.Context) {
	acquired, err := m.lock.Acquire(ctx)
	if err != nil {
		log.Printf("[Matcher] lock acquire: %v", err)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := m.lock.Release(ctx); err != nil {
			log.Printf("[Matcher] lock release: %v", err)
		}
	}()

	stats := m.Sweep(ctx)
	if stats.Enrolled > 0 || stats.Errors > 0 {
		log.Printf("[Matcher] sweep done: campaigns=%d enrolled=%d skipped=%d errors=%d",
			stats.Campaigns, stats.Enrolled, stats.Skipped, stats.Errors)
	}
}

// Sweep runs one enrollment pass over all auto-enroll campaigns. Per-
// contact failures are isolated: one bad contact never stops the sweep.
func (m *Matcher) Sweep(ctx context.Context) SweepStats {
	var stats SweepStats

	campaigns, err := m.store.ListAutoEnrollCampaigns(ctx)
	if err != nil {
		log.Printf("[Matcher] list campaigns: %v", err)
		stats.Errors++
		return stats
	}

	for i := range campaigns {
		if ctx.Err() != nil {
			return stats
		}
		stats.Campaigns++
		m.sweepCampaign(ctx, &campaigns[i], &stats)
	}
	return stats
}

func (m *Matcher) sweepCampaign(ctx context.Context, campaign *Campaign, stats *SweepStats) {
	contacts, err := m.store.EligibleContacts(ctx, campaign, m.cfg.BatchPerSweep)
	if err != nil {
		log.Printf("[Matcher] eligible contacts for %s: %v", campaign.ID, err)
		stats.Errors++
		return
	}

	for i := range contacts {
		if ctx.Err() != nil {
			return
		}
		_, err := m.planner.Enroll(ctx, contacts[i].ID, campaign.ID)
		switch {
		case err == nil:
			stats.Enrolled++
		case errors.Is(err, ErrAlreadyEnrolled):
			stats.Skipped++
		case IsValidation(err):
			// Contact state changed between the query and the enroll.
			stats.Skipped++
		default:
			log.Printf("[Matcher] enroll %s into %s: %v", contacts[i].ID, campaign.ID, err)
			stats.Errors++
		}
	}

	if err := m.store.TouchEnrollmentCheck(ctx, campaign.ID); err != nil {
		log.Printf("[Matcher] touch enrollment check %s: %v", campaign.ID, err)
	}
}
