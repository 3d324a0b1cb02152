package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// Planner turns an enrollment request into the full set of scheduled jobs
// for a campaign's sequence.
type Planner struct {
	store *Store
	now   func() time.Time
}

func NewPlanner(store *Store) *Planner {
	return &Planner{store: store, now: time.Now}
}

// PlannedStep is one entry in the enrollment schedule returned to callers.
type PlannedStep struct {
	StepIndex int       `json:"step_index"`
	DueAt     time.Time `json:"due_at"`
}

// EnrollmentResult reports what an enrollment created.
type EnrollmentResult struct {
	ContactID  uuid.UUID     `json:"contact_id"`
	CampaignID uuid.UUID     `json:"campaign_id"`
	EnrolledAt time.Time     `json:"enrolled_at"`
	Schedule   []PlannedStep `json:"schedule"`
}

// ComputeSchedule returns the due time for every step. Delays are
// cumulative from the enrollment time: due(k) = enrolledAt + sum of the
// delays of steps 1..k. Dispatch lateness of one step never shifts the
// rest of the schedule.
func ComputeSchedule(enrolledAt time.Time, steps []SequenceStep) ([]PlannedStep, error) {
	if len(steps) == 0 {
		return nil, Validationf("campaign has no sequence steps")
	}
	planned := make([]PlannedStep, 0, len(steps))
	due := enrolledAt
	for _, st := range steps {
		d, err := st.Delay()
		if err != nil {
			return nil, Validationf("invalid step delay: %v", err)
		}
		due = due.Add(d)
		planned = append(planned, PlannedStep{StepIndex: st.StepIndex, DueAt: due})
	}
	return planned, nil
}

// Enroll creates the membership row and one pending job per step, all in a
// single transaction. Enrolling an already-enrolled contact (a contact
// with non-terminal jobs in the campaign) returns ErrAlreadyEnrolled.
// Contacts that are unsubscribed, hard-bounced, or spam-complained are
// rejected with a validation error.
func (p *Planner) Enroll(ctx context.Context, contactID, campaignID uuid.UUID) (*EnrollmentResult, error) {
	contact, err := p.store.GetContact(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("load contact: %w", err)
	}
	if !contact.Sendable() {
		return nil, Validationf("contact %s is not sendable", contact.ID)
	}

	campaign, err := p.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	if campaign.Status != "active" {
		return nil, Validationf("campaign %s is not active", campaign.ID)
	}

	active, err := p.store.HasActiveJobs(ctx, contactID, campaignID)
	if err != nil {
		return nil, fmt.Errorf("check active jobs: %w", err)
	}
	if active {
		return nil, ErrAlreadyEnrolled
	}

	enrolledAt := p.now()
	schedule, err := ComputeSchedule(enrolledAt, campaign.Steps)
	if err != nil {
		return nil, err
	}

	jobs := make([]*ScheduledJob, 0, len(schedule))
	for _, ps := range schedule {
		jobs = append(jobs, &ScheduledJob{
			ContactID:  contactID,
			CampaignID: campaignID,
			StepIndex:  ps.StepIndex,
			DueAt:      ps.DueAt,
		})
	}

	cc := &CampaignContact{ContactID: contactID, CampaignID: campaignID}
	if err := p.store.CreateEnrollment(ctx, cc, jobs); err != nil {
		return nil, err
	}

	logger.Info("contact enrolled",
		"component", "planner",
		"contact_id", contactID.String(),
		"campaign_id", campaignID.String(),
		"steps", len(jobs))

	return &EnrollmentResult{
		ContactID:  contactID,
		CampaignID: campaignID,
		EnrolledAt: enrolledAt,
		Schedule:   schedule,
	}, nil
}

// SequenceStatus reports a contact's progress through one campaign.
type SequenceStatus struct {
	ContactID    uuid.UUID      `json:"contact_id"`
	CampaignID   uuid.UUID      `json:"campaign_id"`
	HasResponded bool           `json:"has_responded"`
	EnrolledAt   time.Time      `json:"enrolled_at"`
	Jobs         []ScheduledJob `json:"jobs"`
}

// Status returns the enrollment state for a (contact, campaign) pair.
func (p *Planner) Status(ctx context.Context, contactID, campaignID uuid.UUID) (*SequenceStatus, error) {
	cc, err := p.store.GetCampaignContact(ctx, contactID, campaignID)
	if err != nil {
		return nil, err
	}
	jobs, err := p.store.ListJobs(ctx, contactID, campaignID)
	if err != nil {
		return nil, err
	}
	return &SequenceStatus{
		ContactID:    contactID,
		CampaignID:   campaignID,
		HasResponded: cc.HasResponded,
		EnrolledAt:   cc.EnrolledAt,
		Jobs:         jobs,
	}, nil
}
