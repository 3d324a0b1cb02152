package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/sender"
)

// Renderer produces the subject and body for one sequence step. The engine
// treats template refs as opaque; rendering lives behind this interface.
type Renderer interface {
	Render(ctx context.Context, step SequenceStep, contact *Contact) (subject, htmlBody, textBody string, err error)
}

// PassthroughRenderer emits the template ref as both subject and body.
// Useful in tests and in deployments where the provider side holds the
// real templates.
type PassthroughRenderer struct{}

func (PassthroughRenderer) Render(_ context.Context, step SequenceStep, _ *Contact) (string, string, string, error) {
	return step.TemplateRef, step.TemplateRef, step.TemplateRef, nil
}

// DispatcherConfig tunes the dispatch loop.
type DispatcherConfig struct {
	Interval    time.Duration // tick period
	BatchSize   int           // max jobs claimed per tick
	SendTimeout time.Duration // per-send deadline
	MaxAttempts int           // total attempts before a job fails
	BackoffBase time.Duration // first retry delay
	BackoffCap  time.Duration // retry delay ceiling
}

func (c *DispatcherConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Minute
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = time.Hour
	}
}

// Dispatcher polls for due jobs, claims them one at a time, rechecks
// eligibility at send time, and hands messages to the provider. Every
// claim is a compare-and-set so multiple dispatchers can share a store.
type Dispatcher struct {
	store    *Store
	sender   sender.Sender
	renderer Renderer
	cap      *DailyCap
	cfg      DispatcherConfig

	workerID string
	running  bool
	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	statsProcessed atomic.Int64
	statsSent      atomic.Int64
	statsSkipped   atomic.Int64
	statsRetried   atomic.Int64
	statsFailed    atomic.Int64
	statsDeferred  atomic.Int64
}

func NewDispatcher(store *Store, snd sender.Sender, renderer Renderer, cap *DailyCap, cfg DispatcherConfig) *Dispatcher {
	cfg.applyDefaults()
	if renderer == nil {
		renderer = PassthroughRenderer{}
	}
	if cap == nil {
		cap = NewDailyCap(nil)
	}
	return &Dispatcher{
		store:    store,
		sender:   snd,
		renderer: renderer,
		cap:      cap,
		cfg:      cfg,
		workerID: "dispatcher-" + uuid.New().String()[:8],
	}
}

// Start launches the dispatch loop. Safe to call once; subsequent calls
// are no-ops until Stop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	log.Printf("[Dispatcher] %s starting (interval=%s batch=%d)", d.workerID, d.cfg.Interval, d.cfg.BatchSize)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.cfg.Interval)
		defer ticker.Stop()

		d.Tick(ctx)
		for {
			select {
			case <-ctx.Done():
				log.Printf("[Dispatcher] %s stopping", d.workerID)
				return
			case <-ticker.C:
				d.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-progress tick to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
}

// Tick processes one batch of due jobs. Exported so the worker binary and
// tests can drive the dispatcher without the ticker.
func (d *Dispatcher) Tick(ctx context.Context) {
	jobs, err := d.store.DueJobs(ctx, time.Now(), d.cfg.BatchSize)
	if err != nil {
		log.Printf("[Dispatcher] %s query due jobs: %v", d.workerID, err)
		return
	}
	for i := range jobs {
		if ctx.Err() != nil {
			return
		}
		d.processJob(ctx, &jobs[i])
	}
}

func (d *Dispatcher) processJob(ctx context.Context, job *ScheduledJob) {
	claimed, err := d.store.ClaimJob(ctx, job.ID)
	if err != nil {
		log.Printf("[Dispatcher] %s claim %s: %v", d.workerID, job.ID, err)
		return
	}
	if !claimed {
		// Lost the race to another dispatcher or to a cancellation.
		return
	}
	d.statsProcessed.Add(1)

	contact, err := d.store.GetContact(ctx, job.ContactID)
	if err != nil {
		d.handleReadFailure(ctx, job, "load contact", err)
		return
	}

	// Eligibility is rechecked at send time, not trusted from claim time.
	// A reply or suppression that landed after scheduling must win.
	if reason := d.ineligibleReason(ctx, job, contact); reason != "" {
		if err := d.store.CancelClaimedJob(ctx, job.ID, reason); err != nil {
			log.Printf("[Dispatcher] %s cancel %s: %v", d.workerID, job.ID, err)
			return
		}
		d.statsSkipped.Add(1)
		log.Printf("[Dispatcher] %s job %s cancelled at dispatch: %s", d.workerID, job.ID, reason)
		return
	}

	campaign, err := d.store.GetCampaign(ctx, job.CampaignID)
	if err != nil {
		d.handleReadFailure(ctx, job, "load campaign", err)
		return
	}

	ok, err := d.cap.Take(ctx, campaign.ID, campaign.DailyLimit)
	if err != nil {
		log.Printf("[Dispatcher] %s daily cap check %s: %v", d.workerID, campaign.ID, err)
		// Cap state unknown; defer rather than risk blowing the cap.
		ok = false
	}
	if !ok {
		next := nextUTCDay(time.Now())
		if err := d.store.DeferJob(ctx, job.ID, next); err != nil {
			log.Printf("[Dispatcher] %s defer %s: %v", d.workerID, job.ID, err)
			return
		}
		d.statsDeferred.Add(1)
		return
	}

	step, found := stepByIndex(campaign.Steps, job.StepIndex)
	if !found {
		d.failJob(ctx, job, fmt.Sprintf("campaign %s has no step %d", campaign.ID, job.StepIndex))
		return
	}

	subject, htmlBody, textBody, err := d.renderer.Render(ctx, step, contact)
	if err != nil {
		d.failJob(ctx, job, fmt.Sprintf("render step %d: %v", job.StepIndex, err))
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	res, err := d.sender.Send(sendCtx, sender.Message{
		To:       contact.Email,
		ToName:   strings.TrimSpace(contact.FirstName + " " + contact.LastName),
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
	cancel()

	if err != nil {
		d.handleSendFailure(ctx, job, err)
		return
	}

	email := &Email{
		ContactID:         job.ContactID,
		CampaignID:        job.CampaignID,
		StepIndex:         job.StepIndex,
		ProviderMessageID: res.ProviderMessageID,
		Subject:           subject,
		Body:              htmlBody,
	}
	if err := d.store.InsertEmail(ctx, email); err != nil {
		log.Printf("[Dispatcher] %s record email for job %s: %v", d.workerID, job.ID, err)
	}
	if _, err := d.store.MarkJobSent(ctx, job.ID); err != nil {
		log.Printf("[Dispatcher] %s mark sent %s: %v", d.workerID, job.ID, err)
		return
	}
	if err := d.store.MarkLastContacted(ctx, job.ContactID); err != nil {
		log.Printf("[Dispatcher] %s stamp contact %s: %v", d.workerID, job.ContactID, err)
	}
	d.statsSent.Add(1)
}

// ineligibleReason returns a cancel reason if the job must not be sent,
// or "" when the send may proceed.
func (d *Dispatcher) ineligibleReason(ctx context.Context, job *ScheduledJob, contact *Contact) string {
	if !contact.IsSubscribed {
		return CancelReasonUnsubscribed
	}
	if contact.MarkedAsSpam {
		return CancelReasonComplaint
	}
	if contact.EmailStatus == EmailHardBounced {
		return CancelReasonHardBounce
	}
	cc, err := d.store.GetCampaignContact(ctx, job.ContactID, job.CampaignID)
	if err == nil && cc.HasResponded {
		return CancelReasonReplied
	}
	return ""
}

func (d *Dispatcher) handleSendFailure(ctx context.Context, job *ScheduledJob, sendErr error) {
	attempts := job.AttemptCount + 1
	if !sender.IsTransient(sendErr) || attempts >= d.cfg.MaxAttempts {
		d.failJob(ctx, job, sendErr.Error())
		return
	}
	delay := Backoff(attempts, d.cfg.BackoffBase, d.cfg.BackoffCap)
	if err := d.store.RescheduleJob(ctx, job.ID, time.Now().Add(delay), sendErr.Error()); err != nil {
		log.Printf("[Dispatcher] %s reschedule %s: %v", d.workerID, job.ID, err)
		return
	}
	d.statsRetried.Add(1)
	log.Printf("[Dispatcher] %s job %s retry %d in %s: %v", d.workerID, job.ID, attempts, delay, sendErr)
}

// handleReadFailure handles an error loading the job's contact or campaign
// after the claim. A missing row is terminal; anything else is treated like
// a transient send error so a DB blip does not consume the scheduled send.
func (d *Dispatcher) handleReadFailure(ctx context.Context, job *ScheduledJob, what string, readErr error) {
	reason := fmt.Sprintf("%s: %v", what, readErr)
	attempts := job.AttemptCount + 1
	if errors.Is(readErr, ErrNotFound) || attempts >= d.cfg.MaxAttempts {
		d.failJob(ctx, job, reason)
		return
	}
	delay := Backoff(attempts, d.cfg.BackoffBase, d.cfg.BackoffCap)
	if err := d.store.RescheduleJob(ctx, job.ID, time.Now().Add(delay), reason); err != nil {
		log.Printf("[Dispatcher] %s reschedule %s: %v", d.workerID, job.ID, err)
		return
	}
	d.statsRetried.Add(1)
	log.Printf("[Dispatcher] %s job %s retry %d in %s: %s", d.workerID, job.ID, attempts, delay, reason)
}

func (d *Dispatcher) failJob(ctx context.Context, job *ScheduledJob, reason string) {
	if err := d.store.FailJob(ctx, job.ID, reason); err != nil {
		log.Printf("[Dispatcher] %s fail %s: %v", d.workerID, job.ID, err)
		return
	}
	d.statsFailed.Add(1)
	log.Printf("[Dispatcher] %s job %s failed: %s", d.workerID, job.ID, reason)
}

// Backoff returns the delay before retry attempt n (1-based): base doubled
// per prior attempt, capped.
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

func nextUTCDay(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

func stepByIndex(steps []SequenceStep, idx int) (SequenceStep, bool) {
	for _, st := range steps {
		if st.StepIndex == idx {
			return st, true
		}
	}
	return SequenceStep{}, false
}

// DispatcherStats is a snapshot of the loop's counters.
type DispatcherStats struct {
	WorkerID  string `json:"worker_id"`
	Processed int64  `json:"processed"`
	Sent      int64  `json:"sent"`
	Skipped   int64  `json:"skipped"`
	Retried   int64  `json:"retried"`
	Failed    int64  `json:"failed"`
	Deferred  int64  `json:"deferred"`
}

func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		WorkerID:  d.workerID,
		Processed: d.statsProcessed.Load(),
		Sent:      d.statsSent.Load(),
		Skipped:   d.statsSkipped.Load(),
		Retried:   d.statsRetried.Load(),
		Failed:    d.statsFailed.Load(),
		Deferred:  d.statsDeferred.Load(),
	}
}
