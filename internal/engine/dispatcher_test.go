package engine

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestBackoff(t *testing.T) {
	base := time.Minute
	cap := time.Hour

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{7, time.Hour},  // 64m, capped
		{20, time.Hour}, // way past cap, must not overflow
		{0, time.Minute},
		{-3, time.Minute},
	}

	for _, tt := range tests {
		if got := Backoff(tt.attempt, base, cap); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestNextUTCDay(t *testing.T) {
	now := time.Date(2026, 3, 1, 17, 45, 12, 0, time.UTC)
	next := nextUTCDay(now)
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("nextUTCDay = %v, want %v", next, want)
	}
}

func TestStepByIndex(t *testing.T) {
	steps := []SequenceStep{
		{StepIndex: 0, TemplateRef: "intro"},
		{StepIndex: 2, TemplateRef: "followup"},
	}

	st, ok := stepByIndex(steps, 2)
	if !ok || st.TemplateRef != "followup" {
		t.Errorf("stepByIndex(2) = %+v, %v", st, ok)
	}
	if _, ok := stepByIndex(steps, 1); ok {
		t.Error("stepByIndex(1) should miss")
	}
}

func jobRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "contact_id", "campaign_id", "step_index", "due_at", "status",
		"attempt_count", "cancel_reason", "last_error", "created_at", "updated_at",
	})
}

func TestTick_LostClaimSkipsJob(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	jobID := uuid.New()
	now := time.Now()
	rows := jobRows().AddRow(jobID, uuid.New(), uuid.New(), 0, now, "pending", 0, "", "", now, now)

	mock.ExpectQuery("(?s)SELECT (.+) FROM scheduled_jobs").WillReturnRows(rows)
	// Another dispatcher already claimed the job: zero rows affected.
	mock.ExpectExec("UPDATE scheduled_jobs SET status = 'in_flight'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	d := NewDispatcher(NewStore(db), nil, nil, nil, DispatcherConfig{})
	d.Tick(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
	if got := d.Stats().Sent; got != 0 {
		t.Errorf("Sent = %d, want 0", got)
	}
}

func TestTick_TransientReadFailureReschedules(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	jobID := uuid.New()
	now := time.Now()
	rows := jobRows().AddRow(jobID, uuid.New(), uuid.New(), 0, now, "pending", 0, "", "", now, now)

	mock.ExpectQuery("(?s)SELECT (.+) FROM scheduled_jobs").WillReturnRows(rows)
	mock.ExpectExec("UPDATE scheduled_jobs SET status = 'in_flight'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("(?s)SELECT (.+) FROM contacts WHERE id").
		WillReturnError(errors.New("connection reset by peer"))
	// A DB blip after the claim must not consume the send: the job goes
	// back to pending with backoff, not to the terminal failed state.
	mock.ExpectExec("(?s)UPDATE scheduled_jobs\\s+SET status = 'pending', due_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	d := NewDispatcher(NewStore(db), nil, nil, nil, DispatcherConfig{})
	d.Tick(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
	stats := d.Stats()
	if stats.Retried != 1 || stats.Failed != 0 {
		t.Errorf("Retried = %d, Failed = %d, want 1 and 0", stats.Retried, stats.Failed)
	}
}

func TestTick_MissingContactFailsJob(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	jobID := uuid.New()
	now := time.Now()
	rows := jobRows().AddRow(jobID, uuid.New(), uuid.New(), 0, now, "pending", 0, "", "", now, now)

	mock.ExpectQuery("(?s)SELECT (.+) FROM scheduled_jobs").WillReturnRows(rows)
	mock.ExpectExec("UPDATE scheduled_jobs SET status = 'in_flight'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("(?s)SELECT (.+) FROM contacts WHERE id").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("(?s)UPDATE scheduled_jobs\\s+SET status = 'failed'").
		WillReturnResult(sqlmock.NewResult(0, 1))

	d := NewDispatcher(NewStore(db), nil, nil, nil, DispatcherConfig{})
	d.Tick(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
	if got := d.Stats().Failed; got != 1 {
		t.Errorf("Failed = %d, want 1", got)
	}
}

func TestIneligibleReason(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	d := NewDispatcher(NewStore(db), nil, nil, nil, DispatcherConfig{})
	job := &ScheduledJob{ContactID: uuid.New(), CampaignID: uuid.New(), StepIndex: 1}
	ctx := context.Background()

	// Contact-level suppression needs no lookup.
	if got := d.ineligibleReason(ctx, job, &Contact{IsSubscribed: false}); got != CancelReasonUnsubscribed {
		t.Errorf("unsubscribed: reason = %q", got)
	}
	if got := d.ineligibleReason(ctx, job, &Contact{IsSubscribed: true, MarkedAsSpam: true}); got != CancelReasonComplaint {
		t.Errorf("spam: reason = %q", got)
	}
	if got := d.ineligibleReason(ctx, job, &Contact{IsSubscribed: true, EmailStatus: EmailHardBounced}); got != CancelReasonHardBounce {
		t.Errorf("hard bounce: reason = %q", got)
	}

	// A reply recorded after step 1 stops the rest of the sequence even if
	// a later job was somehow still claimable.
	now := time.Now()
	mock.ExpectQuery("(?s)SELECT (.+) FROM campaign_contacts").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "contact_id", "campaign_id", "has_responded", "responded_at", "enrolled_at",
		}).AddRow(uuid.New(), job.ContactID, job.CampaignID, true, now, now))
	if got := d.ineligibleReason(ctx, job, &Contact{IsSubscribed: true, EmailStatus: EmailOK}); got != CancelReasonReplied {
		t.Errorf("responded: reason = %q", got)
	}

	mock.ExpectQuery("(?s)SELECT (.+) FROM campaign_contacts").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "contact_id", "campaign_id", "has_responded", "responded_at", "enrolled_at",
		}).AddRow(uuid.New(), job.ContactID, job.CampaignID, false, nil, now))
	if got := d.ineligibleReason(ctx, job, &Contact{IsSubscribed: true, EmailStatus: EmailOK}); got != "" {
		t.Errorf("eligible: reason = %q, want empty", got)
	}
}

func TestDispatcher_StartStop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	// The initial tick queries due jobs; the interval is long enough that
	// no second tick fires before Stop.
	mock.ExpectQuery("(?s)SELECT (.+) FROM scheduled_jobs").
		WillReturnRows(jobRows())

	d := NewDispatcher(NewStore(db), nil, nil, nil, DispatcherConfig{Interval: time.Hour})
	d.Start(context.Background())
	d.Start(context.Background()) // second start is a no-op
	time.Sleep(50 * time.Millisecond)
	d.Stop()
	d.Stop() // second stop is a no-op

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
