package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/engine"
)

func setupAPITest(t *testing.T) (http.Handler, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	store := engine.NewStore(db)
	h := NewHandlers(db, engine.NewPlanner(store), engine.NewIngestor(store, engine.NewPolicy(3)), nil)
	return SetupRoutes(h), mock, func() { db.Close() }
}

func contactRow(id uuid.UUID, email string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "email", "first_name", "last_name", "company",
		"industry", "business_type", "company_size",
		"is_subscribed", "email_status", "soft_bounce_count", "marked_as_spam",
		"total_opens", "total_clicks", "last_opened_at", "last_clicked_at", "last_contacted_at",
		"created_at", "updated_at",
	}).AddRow(id, email, "Ada", "Lovelace", "Analytical Engines",
		"Technology", "B2B", "1-10",
		true, "ok", 0, false,
		0, 0, nil, nil, nil,
		now, now)
}

func campaignRow(id uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "status", "auto_enroll", "target_industries", "target_business_types",
		"target_company_sizes", "daily_limit", "response_count", "bounce_count", "total_enrolled",
		"last_enrollment_check", "created_at",
	}).AddRow(id, "Tech outreach", "active", false, "{}", "{}", "{}", 0, 0, 0, 0, nil, time.Now())
}

func stepRows(campaignID uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "campaign_id", "step_index", "template_ref", "delay_amount", "delay_unit",
	}).AddRow(uuid.New(), campaignID, 0, "intro", 0, "minute").
		AddRow(uuid.New(), campaignID, 1, "followup", 3, "day")
}

func TestHealthCheck_NoDB(t *testing.T) {
	h := NewHandlers(nil, nil, nil, nil)
	router := SetupRoutes(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestProviderWebhook_MalformedJSON(t *testing.T) {
	router, _, cleanup := setupAPITest(t)
	defer cleanup()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider", bytes.NewBufferString("{not json"))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProviderWebhook_MissingEventType(t *testing.T) {
	router, _, cleanup := setupAPITest(t)
	defer cleanup()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider",
		bytes.NewBufferString(`{"email":"ada@example.com"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProviderWebhook_ReplayReturns200(t *testing.T) {
	router, mock, cleanup := setupAPITest(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO webhook_events").
		WillReturnError(&pq.Error{Code: "23505"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider",
		bytes.NewBufferString(`{"id":77,"event":"opened","email":"ada@example.com","ts_event":1756400000}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["outcome"] != string(engine.OutcomeDuplicate) {
		t.Errorf("outcome = %q, want duplicate", body["outcome"])
	}
}

func TestProviderWebhook_UnresolvedReturns200(t *testing.T) {
	router, mock, cleanup := setupAPITest(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO webhook_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("(?s)SELECT (.+) FROM contacts WHERE LOWER").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("UPDATE webhook_events SET processed_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/provider",
		bytes.NewBufferString(`{"id":78,"event":"opened","email":"stranger@example.com"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["outcome"] != string(engine.OutcomeUnresolved) {
		t.Errorf("outcome = %q, want unresolved", body["outcome"])
	}
}

func TestEnroll_InvalidCampaignID(t *testing.T) {
	router, _, cleanup := setupAPITest(t)
	defer cleanup()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/not-a-uuid/enroll",
		bytes.NewBufferString(`{"contact_id":"`+uuid.New().String()+`"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEnroll_MissingContactID(t *testing.T) {
	router, _, cleanup := setupAPITest(t)
	defer cleanup()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/campaigns/%s/enroll", uuid.New()),
		bytes.NewBufferString(`{}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEnroll_ContactNotFound(t *testing.T) {
	router, mock, cleanup := setupAPITest(t)
	defer cleanup()

	mock.ExpectQuery("(?s)SELECT (.+) FROM contacts").
		WillReturnError(sql.ErrNoRows)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/campaigns/%s/enroll", uuid.New()),
		bytes.NewBufferString(`{"contact_id":"`+uuid.New().String()+`"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestEnroll_AlreadyEnrolledConflicts(t *testing.T) {
	router, mock, cleanup := setupAPITest(t)
	defer cleanup()

	contactID, campaignID := uuid.New(), uuid.New()

	mock.ExpectQuery("(?s)SELECT (.+) FROM contacts").
		WillReturnRows(contactRow(contactID, "ada@example.com"))
	mock.ExpectQuery("(?s)SELECT (.+) FROM campaigns").
		WillReturnRows(campaignRow(campaignID))
	mock.ExpectQuery("(?s)SELECT (.+) FROM sequence_steps").
		WillReturnRows(stepRows(campaignID))
	mock.ExpectQuery("SELECT COUNT(.+) FROM scheduled_jobs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/campaigns/%s/enroll", campaignID),
		bytes.NewBufferString(`{"contact_id":"`+contactID.String()+`"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestEnroll_Succeeds(t *testing.T) {
	router, mock, cleanup := setupAPITest(t)
	defer cleanup()

	contactID, campaignID := uuid.New(), uuid.New()

	mock.ExpectQuery("(?s)SELECT (.+) FROM contacts").
		WillReturnRows(contactRow(contactID, "ada@example.com"))
	mock.ExpectQuery("(?s)SELECT (.+) FROM campaigns").
		WillReturnRows(campaignRow(campaignID))
	mock.ExpectQuery("(?s)SELECT (.+) FROM sequence_steps").
		WillReturnRows(stepRows(campaignID))
	mock.ExpectQuery("SELECT COUNT(.+) FROM scheduled_jobs").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO campaign_contacts").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO scheduled_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO scheduled_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns SET total_enrolled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/campaigns/%s/enroll", campaignID),
		bytes.NewBufferString(`{"contact_id":"`+contactID.String()+`"}`))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}

	var result engine.EnrollmentResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(result.Schedule) != 2 {
		t.Fatalf("schedule has %d steps, want 2", len(result.Schedule))
	}
	// Cumulative delays: step 0 immediately, step 1 three days later.
	gap := result.Schedule[1].DueAt.Sub(result.Schedule[0].DueAt)
	if gap != 72*time.Hour {
		t.Errorf("gap between steps = %v, want 72h", gap)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
