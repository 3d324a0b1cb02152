// Package engine implements the outreach sequence engine: the enrollment
// planner, the durable scheduled-job store, the dispatch worker, the
// webhook ingestor with its reply/bounce policy, and the auto-enrollment
// matcher.
package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a ScheduledJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobInFlight  JobStatus = "in_flight"
	JobSent      JobStatus = "sent"
	JobCancelled JobStatus = "cancelled"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobSent || s == JobCancelled || s == JobFailed
}

// EmailStatus is the deliverability state of a contact address.
type EmailStatus string

const (
	EmailOK          EmailStatus = "ok"
	EmailSoftBounced EmailStatus = "soft_bounced"
	EmailHardBounced EmailStatus = "hard_bounced"
)

// Cancel reasons recorded on scheduled_jobs.cancel_reason.
const (
	CancelReasonReplied      = "replied"
	CancelReasonUnsubscribed = "unsubscribed"
	CancelReasonHardBounce   = "hard_bounce"
	CancelReasonComplaint    = "spam_complaint"
)

// Contact is a prospect the engine may send to. Targeting attributes are
// read only by the auto-enrollment matcher; the status flags gate dispatch.
type Contact struct {
	ID              uuid.UUID
	Email           string
	FirstName       string
	LastName        string
	Company         string
	Industry        string
	BusinessType    string
	CompanySize     string
	IsSubscribed    bool
	EmailStatus     EmailStatus
	SoftBounceCount int
	MarkedAsSpam    bool
	TotalOpens      int
	TotalClicks     int
	LastOpenedAt    *time.Time
	LastClickedAt   *time.Time
	LastContactedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Sendable reports whether the contact may receive any email at all.
// The per-campaign reply check is separate (campaign_contacts).
func (c *Contact) Sendable() bool {
	return c.IsSubscribed && !c.MarkedAsSpam && c.EmailStatus != EmailHardBounced
}

// Campaign is an ordered sequence of steps plus targeting for
// auto-enrollment. An empty targeting slice matches all contacts on that
// dimension.
type Campaign struct {
	ID                  uuid.UUID
	Name                string
	Status              string
	AutoEnroll          bool
	TargetIndustries    []string
	TargetBusinessTypes []string
	TargetCompanySizes  []string
	DailyLimit          int
	ResponseCount       int
	BounceCount         int
	TotalEnrolled       int
	LastEnrollmentCheck *time.Time
	Steps               []SequenceStep
	CreatedAt           time.Time
}

// SequenceStep is one email in a campaign's sequence. TemplateRef is opaque
// to the engine; the rendering collaborator interprets it.
type SequenceStep struct {
	ID          uuid.UUID
	CampaignID  uuid.UUID
	StepIndex   int
	TemplateRef string
	DelayAmount int
	DelayUnit   string // minute, hour, day
}

// Delay converts the step's delay specification to a duration.
// Returns an error for negative amounts or unknown units.
func (s SequenceStep) Delay() (time.Duration, error) {
	if s.DelayAmount < 0 {
		return 0, fmt.Errorf("step %d: negative delay amount %d", s.StepIndex, s.DelayAmount)
	}
	switch s.DelayUnit {
	case "minute":
		return time.Duration(s.DelayAmount) * time.Minute, nil
	case "hour":
		return time.Duration(s.DelayAmount) * time.Hour, nil
	case "day":
		return time.Duration(s.DelayAmount) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("step %d: unknown delay unit %q", s.StepIndex, s.DelayUnit)
	}
}

// ScheduledJob is the durable record of one owed send. Non-terminal jobs
// are unique per (contact, campaign, step); rows are never deleted.
type ScheduledJob struct {
	ID           uuid.UUID
	ContactID    uuid.UUID
	CampaignID   uuid.UUID
	StepIndex    int
	DueAt        time.Time
	Status       JobStatus
	AttemptCount int
	CancelReason string
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Email records an attempted-and-accepted send plus the engagement
// timestamps stamped later by webhook events.
type Email struct {
	ID                uuid.UUID
	ContactID         uuid.UUID
	CampaignID        uuid.UUID
	StepIndex         int
	ProviderMessageID string
	Subject           string
	Body              string
	SentAt            time.Time
	DeliveredAt       *time.Time
	OpenedAt          *time.Time
	ClickedAt         *time.Time
	RepliedAt         *time.Time
	BouncedAt         *time.Time
	ComplainedAt      *time.Time
	OpenCount         int
	ClickCount        int
	ClickedURLs       []string
}

// WebhookEvent is the write-ahead record of one inbound provider event.
// The unique provider event id is the idempotence key; the row is never
// mutated after ProcessedAt is set.
type WebhookEvent struct {
	ID                uuid.UUID
	ProviderEventID   string
	Provider          string
	EventType         EventType
	RawPayload        []byte
	RecipientEmail    string
	ProviderMessageID string
	ClickedURL        string
	BounceReason      string
	EventTimestamp    time.Time
	ReceivedAt        time.Time
	ProcessedAt       *time.Time
	Resolution        string // resolved, unresolved
	ContactID         *uuid.UUID
}

// CampaignContact tracks a contact's membership in one campaign, including
// the per-campaign reply flag that stops that campaign's sequence.
type CampaignContact struct {
	ID           uuid.UUID
	ContactID    uuid.UUID
	CampaignID   uuid.UUID
	HasResponded bool
	RespondedAt  *time.Time
	EnrolledAt   time.Time
}
