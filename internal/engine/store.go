package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store handles all engine reads and writes against Postgres. Job status
// transitions are compare-and-set UPDATEs; the row count tells the caller
// whether it won the transition.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// =============================================================================
// Contacts
// =============================================================================

const contactColumns = `id, email, COALESCE(first_name,''), COALESCE(last_name,''), COALESCE(company,''),
	COALESCE(industry,''), COALESCE(business_type,''), COALESCE(company_size,''),
	is_subscribed, email_status, soft_bounce_count, marked_as_spam,
	total_opens, total_clicks, last_opened_at, last_clicked_at, last_contacted_at,
	created_at, updated_at`

func scanContact(row interface{ Scan(...interface{}) error }) (*Contact, error) {
	var c Contact
	err := row.Scan(
		&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Company,
		&c.Industry, &c.BusinessType, &c.CompanySize,
		&c.IsSubscribed, &c.EmailStatus, &c.SoftBounceCount, &c.MarkedAsSpam,
		&c.TotalOpens, &c.TotalClicks, &c.LastOpenedAt, &c.LastClickedAt, &c.LastContactedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetContact(ctx context.Context, id uuid.UUID) (*Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	return scanContact(row)
}

// FindContactByEmail resolves a contact by case-insensitive exact match.
func (s *Store) FindContactByEmail(ctx context.Context, email string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE LOWER(email) = LOWER($1)`, email)
	return scanContact(row)
}

// ApplyContactMutations applies a policy decision's contact changes.
func (s *Store) ApplyContactMutations(ctx context.Context, contactID uuid.UUID, m ContactMutations) error {
	if m.Unsubscribe {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE contacts SET is_subscribed = FALSE, updated_at = NOW() WHERE id = $1`, contactID); err != nil {
			return fmt.Errorf("unsubscribe: %w", err)
		}
	}
	if m.MarkSpam {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE contacts SET marked_as_spam = TRUE, updated_at = NOW() WHERE id = $1`, contactID); err != nil {
			return fmt.Errorf("mark spam: %w", err)
		}
	}
	if m.IncrementSoftBounce {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE contacts SET soft_bounce_count = soft_bounce_count + 1, updated_at = NOW() WHERE id = $1`, contactID); err != nil {
			return fmt.Errorf("increment soft bounce: %w", err)
		}
	}
	if m.SetEmailStatus != "" {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE contacts SET email_status = $2, updated_at = NOW() WHERE id = $1`, contactID, string(m.SetEmailStatus)); err != nil {
			return fmt.Errorf("set email status: %w", err)
		}
	}
	return nil
}

// RecordEngagement bumps the contact-level open/click counters.
func (s *Store) RecordEngagement(ctx context.Context, contactID uuid.UUID, t EventType, at time.Time) error {
	var err error
	switch t {
	case EventOpened:
		_, err = s.db.ExecContext(ctx,
			`UPDATE contacts SET total_opens = total_opens + 1, last_opened_at = $2, updated_at = NOW() WHERE id = $1`,
			contactID, at)
	case EventClicked:
		_, err = s.db.ExecContext(ctx,
			`UPDATE contacts SET total_clicks = total_clicks + 1, last_clicked_at = $2, updated_at = NOW() WHERE id = $1`,
			contactID, at)
	}
	return err
}

// MarkLastContacted stamps the contact after a successful send.
func (s *Store) MarkLastContacted(ctx context.Context, contactID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET last_contacted_at = NOW(), updated_at = NOW() WHERE id = $1`, contactID)
	return err
}

// =============================================================================
// Campaigns & steps
// =============================================================================

func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	var c Campaign
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, auto_enroll, target_industries, target_business_types,
			target_company_sizes, daily_limit, response_count, bounce_count, total_enrolled,
			last_enrollment_check, created_at
		FROM campaigns WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Status, &c.AutoEnroll,
		pq.Array(&c.TargetIndustries), pq.Array(&c.TargetBusinessTypes), pq.Array(&c.TargetCompanySizes),
		&c.DailyLimit, &c.ResponseCount, &c.BounceCount, &c.TotalEnrolled,
		&c.LastEnrollmentCheck, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	steps, err := s.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Steps = steps
	return &c, nil
}

// ListSteps returns a campaign's steps ordered by step index.
func (s *Store) ListSteps(ctx context.Context, campaignID uuid.UUID) ([]SequenceStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, campaign_id, step_index, template_ref, delay_amount, delay_unit
		FROM sequence_steps WHERE campaign_id = $1 ORDER BY step_index`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []SequenceStep
	for rows.Next() {
		var st SequenceStep
		if err := rows.Scan(&st.ID, &st.CampaignID, &st.StepIndex, &st.TemplateRef, &st.DelayAmount, &st.DelayUnit); err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// ListAutoEnrollCampaigns returns active campaigns with auto-enrollment on.
func (s *Store) ListAutoEnrollCampaigns(ctx context.Context) ([]Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, status, auto_enroll, target_industries, target_business_types,
			target_company_sizes, daily_limit, response_count, bounce_count, total_enrolled,
			last_enrollment_check, created_at
		FROM campaigns WHERE auto_enroll = TRUE AND status = 'active'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []Campaign
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.AutoEnroll,
			pq.Array(&c.TargetIndustries), pq.Array(&c.TargetBusinessTypes), pq.Array(&c.TargetCompanySizes),
			&c.DailyLimit, &c.ResponseCount, &c.BounceCount, &c.TotalEnrolled,
			&c.LastEnrollmentCheck, &c.CreatedAt); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (s *Store) IncrementCampaignResponses(ctx context.Context, campaignID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET response_count = response_count + 1 WHERE id = $1`, campaignID)
	return err
}

func (s *Store) IncrementCampaignBounces(ctx context.Context, campaignID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET bounce_count = bounce_count + 1 WHERE id = $1`, campaignID)
	return err
}

func (s *Store) TouchEnrollmentCheck(ctx context.Context, campaignID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET last_enrollment_check = NOW() WHERE id = $1`, campaignID)
	return err
}

// =============================================================================
// Campaign membership
// =============================================================================

func (s *Store) GetCampaignContact(ctx context.Context, contactID, campaignID uuid.UUID) (*CampaignContact, error) {
	var cc CampaignContact
	err := s.db.QueryRowContext(ctx,
		`SELECT id, contact_id, campaign_id, has_responded, responded_at, enrolled_at
		FROM campaign_contacts WHERE contact_id = $1 AND campaign_id = $2`,
		contactID, campaignID,
	).Scan(&cc.ID, &cc.ContactID, &cc.CampaignID, &cc.HasResponded, &cc.RespondedAt, &cc.EnrolledAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cc, nil
}

// MarkResponded sets the per-campaign reply flag. Returns true only the
// first time, so the campaign response counter is bumped exactly once.
func (s *Store) MarkResponded(ctx context.Context, contactID, campaignID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaign_contacts SET has_responded = TRUE, responded_at = NOW()
		WHERE contact_id = $1 AND campaign_id = $2 AND has_responded = FALSE`,
		contactID, campaignID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// =============================================================================
// Scheduled jobs
// =============================================================================

const jobColumns = `id, contact_id, campaign_id, step_index, due_at, status,
	attempt_count, COALESCE(cancel_reason,''), COALESCE(last_error,''), created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*ScheduledJob, error) {
	var j ScheduledJob
	err := row.Scan(&j.ID, &j.ContactID, &j.CampaignID, &j.StepIndex, &j.DueAt, &j.Status,
		&j.AttemptCount, &j.CancelReason, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// HasActiveJobs reports whether any non-terminal job exists for the pair.
func (s *Store) HasActiveJobs(ctx context.Context, contactID, campaignID uuid.UUID) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scheduled_jobs
		WHERE contact_id = $1 AND campaign_id = $2 AND status IN ('pending', 'in_flight')`,
		contactID, campaignID).Scan(&count)
	return count > 0, err
}

// CreateEnrollment inserts the membership row and all step jobs in one
// transaction. A unique violation on the active-job index means a
// concurrent enrollment won; callers receive ErrAlreadyEnrolled.
func (s *Store) CreateEnrollment(ctx context.Context, cc *CampaignContact, jobs []*ScheduledJob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if cc.ID == uuid.Nil {
		cc.ID = uuid.New()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO campaign_contacts (id, contact_id, campaign_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (contact_id, campaign_id) DO NOTHING`,
		cc.ID, cc.ContactID, cc.CampaignID)
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	newMember, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}

	for _, j := range jobs {
		if j.ID == uuid.Nil {
			j.ID = uuid.New()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO scheduled_jobs (id, contact_id, campaign_id, step_index, due_at, status)
			VALUES ($1, $2, $3, $4, $5, 'pending')`,
			j.ID, j.ContactID, j.CampaignID, j.StepIndex, j.DueAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyEnrolled
			}
			return fmt.Errorf("insert job step %d: %w", j.StepIndex, err)
		}
	}

	// Re-enrollment after terminal jobs keeps the original membership row;
	// only a fresh membership counts toward the campaign total.
	if newMember > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE campaigns SET total_enrolled = total_enrolled + 1 WHERE id = $1`, cc.CampaignID)
		if err != nil {
			return fmt.Errorf("bump enrolled count: %w", err)
		}
	}

	return tx.Commit()
}

// DueJobs returns pending jobs whose due time has passed, ordered by due
// time then contact id for deterministic processing.
func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs
		WHERE status = 'pending' AND due_at <= $1
		ORDER BY due_at, contact_id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// ClaimJob moves a job pending -> in_flight. Returns false if another
// dispatcher tick or a cancellation got there first.
func (s *Store) ClaimJob(ctx context.Context, jobID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = 'in_flight', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, jobID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkJobSent completes a claimed job.
func (s *Store) MarkJobSent(ctx context.Context, jobID uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = 'sent', updated_at = NOW()
		WHERE id = $1 AND status = 'in_flight'`, jobID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CancelClaimedJob cancels a job the dispatcher holds in_flight, used when
// the dispatch-time eligibility check fails.
func (s *Store) CancelClaimedJob(ctx context.Context, jobID uuid.UUID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = 'cancelled', cancel_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'in_flight'`, jobID, reason)
	return err
}

// RescheduleJob returns a claimed job to pending with a new due time after
// a transient send failure.
func (s *Store) RescheduleJob(ctx context.Context, jobID uuid.UUID, dueAt time.Time, sendErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs
		SET status = 'pending', due_at = $2, attempt_count = attempt_count + 1,
			last_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'in_flight'`, jobID, dueAt, sendErr)
	return err
}

// FailJob moves a claimed job to the terminal failed state.
func (s *Store) FailJob(ctx context.Context, jobID uuid.UUID, sendErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs
		SET status = 'failed', attempt_count = attempt_count + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'in_flight'`, jobID, sendErr)
	return err
}

// DeferJob pushes a pending job's due time forward without consuming an
// attempt (used when a campaign's daily send cap is reached).
func (s *Store) DeferJob(ctx context.Context, jobID uuid.UUID, dueAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = 'pending', due_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'in_flight'`, jobID, dueAt)
	return err
}

// CancelContactJobs cancels every pending job for a contact across all
// campaigns. In-flight jobs are left to run to completion; cancellation is
// cooperative and only prevents future sends.
func (s *Store) CancelContactJobs(ctx context.Context, contactID uuid.UUID, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = 'cancelled', cancel_reason = $2, updated_at = NOW()
		WHERE contact_id = $1 AND status = 'pending'`, contactID, reason)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CancelCampaignJobs cancels a contact's pending jobs within one campaign.
func (s *Store) CancelCampaignJobs(ctx context.Context, contactID, campaignID uuid.UUID, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_jobs SET status = 'cancelled', cancel_reason = $3, updated_at = NOW()
		WHERE contact_id = $1 AND campaign_id = $2 AND status = 'pending'`,
		contactID, campaignID, reason)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ListJobs returns all jobs for a (contact, campaign) pair ordered by step.
func (s *Store) ListJobs(ctx context.Context, contactID, campaignID uuid.UUID) ([]ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs
		WHERE contact_id = $1 AND campaign_id = $2
		ORDER BY step_index, created_at`, contactID, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// =============================================================================
// Emails
// =============================================================================

func (s *Store) InsertEmail(ctx context.Context, e *Email) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.SentAt.IsZero() {
		e.SentAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emails (id, contact_id, campaign_id, step_index, provider_message_id, subject, body, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.ContactID, e.CampaignID, e.StepIndex, e.ProviderMessageID, e.Subject, e.Body, e.SentAt)
	return err
}

const emailColumns = `id, contact_id, campaign_id, step_index, COALESCE(provider_message_id,''),
	COALESCE(subject,''), COALESCE(body,''), sent_at, delivered_at, opened_at, clicked_at,
	replied_at, bounced_at, complained_at, open_count, click_count, clicked_urls`

func scanEmail(row interface{ Scan(...interface{}) error }) (*Email, error) {
	var e Email
	err := row.Scan(&e.ID, &e.ContactID, &e.CampaignID, &e.StepIndex, &e.ProviderMessageID,
		&e.Subject, &e.Body, &e.SentAt, &e.DeliveredAt, &e.OpenedAt, &e.ClickedAt,
		&e.RepliedAt, &e.BouncedAt, &e.ComplainedAt, &e.OpenCount, &e.ClickCount,
		pq.Array(&e.ClickedURLs))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// EmailByProviderMessageID looks up the email a provider event refers to.
func (s *Store) EmailByProviderMessageID(ctx context.Context, messageID string) (*Email, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE provider_message_id = $1`, messageID)
	return scanEmail(row)
}

// LatestEmailForContact returns the most recently sent email to a contact.
func (s *Store) LatestEmailForContact(ctx context.Context, contactID uuid.UUID) (*Email, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM emails
		WHERE contact_id = $1 ORDER BY sent_at DESC LIMIT 1`, contactID)
	return scanEmail(row)
}

// StampEmailEvent records an engagement/delivery timestamp on an email.
// First-occurrence timestamps are preserved; counters always increment.
func (s *Store) StampEmailEvent(ctx context.Context, emailID uuid.UUID, t EventType, at time.Time, clickedURL string) error {
	var err error
	switch t {
	case EventDelivered:
		_, err = s.db.ExecContext(ctx,
			`UPDATE emails SET delivered_at = COALESCE(delivered_at, $2) WHERE id = $1`, emailID, at)
	case EventOpened:
		_, err = s.db.ExecContext(ctx,
			`UPDATE emails SET opened_at = COALESCE(opened_at, $2), open_count = open_count + 1 WHERE id = $1`, emailID, at)
	case EventClicked:
		_, err = s.db.ExecContext(ctx,
			`UPDATE emails SET clicked_at = COALESCE(clicked_at, $2), click_count = click_count + 1,
				clicked_urls = CASE WHEN $3 <> '' AND NOT ($3 = ANY(clicked_urls))
					THEN array_append(clicked_urls, $3) ELSE clicked_urls END
			WHERE id = $1`, emailID, at, clickedURL)
	case EventReplied:
		_, err = s.db.ExecContext(ctx,
			`UPDATE emails SET replied_at = COALESCE(replied_at, $2) WHERE id = $1`, emailID, at)
	case EventBouncedSoft, EventBouncedHard:
		_, err = s.db.ExecContext(ctx,
			`UPDATE emails SET bounced_at = COALESCE(bounced_at, $2) WHERE id = $1`, emailID, at)
	case EventComplained:
		_, err = s.db.ExecContext(ctx,
			`UPDATE emails SET complained_at = COALESCE(complained_at, $2) WHERE id = $1`, emailID, at)
	}
	return err
}

// =============================================================================
// Webhook events
// =============================================================================

// InsertWebhookEvent persists the write-ahead event row. Returns
// ErrDuplicateEvent when the provider event id has been seen before.
func (s *Store) InsertWebhookEvent(ctx context.Context, e *WebhookEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events
			(id, provider_event_id, provider, event_type, raw_payload, recipient_email,
			 provider_message_id, clicked_url, bounce_reason, event_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.ProviderEventID, e.Provider, string(e.EventType), e.RawPayload, e.RecipientEmail,
		e.ProviderMessageID, e.ClickedURL, e.BounceReason, e.EventTimestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEvent
		}
		return err
	}
	return nil
}

// MarkEventProcessed finalizes the event row. The row is immutable after
// this point.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID uuid.UUID, resolution string, contactID *uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events SET processed_at = NOW(), resolution = $2, contact_id = $3
		WHERE id = $1 AND processed_at IS NULL`, eventID, resolution, contactID)
	return err
}

// =============================================================================
// Matcher queries
// =============================================================================

// EligibleContacts returns sendable contacts matching the campaign's
// targeting predicate that are not yet enrolled in it. Empty targeting
// arrays match all contacts on that dimension.
func (s *Store) EligibleContacts(ctx context.Context, campaign *Campaign, limit int) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM contacts c
		WHERE c.is_subscribed = TRUE
		  AND c.marked_as_spam = FALSE
		  AND c.email_status <> 'hard_bounced'
		  AND (cardinality($2::text[]) = 0 OR c.industry = ANY($2))
		  AND (cardinality($3::text[]) = 0 OR c.business_type = ANY($3))
		  AND (cardinality($4::text[]) = 0 OR c.company_size = ANY($4))
		  AND NOT EXISTS (
			SELECT 1 FROM campaign_contacts cc
			WHERE cc.contact_id = c.id AND cc.campaign_id = $1
		  )
		ORDER BY c.created_at
		LIMIT $5`,
		campaign.ID,
		pq.Array(campaign.TargetIndustries),
		pq.Array(campaign.TargetBusinessTypes),
		pq.Array(campaign.TargetCompanySizes),
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}
