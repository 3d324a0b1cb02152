package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/engine"
	"github.com/ignite/outreach-engine/internal/pkg/httputil"
)

// Handlers carries the engine components the HTTP layer fronts.
type Handlers struct {
	db         *sql.DB
	planner    *engine.Planner
	ingestor   *engine.Ingestor
	dispatcher *engine.Dispatcher
}

func NewHandlers(db *sql.DB, planner *engine.Planner, ingestor *engine.Ingestor, dispatcher *engine.Dispatcher) *Handlers {
	return &Handlers{db: db, planner: planner, ingestor: ingestor, dispatcher: dispatcher}
}

// HealthCheck reports process and database liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
			httputil.JSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}
	httputil.OK(w, status)
}

// brevoWebhookPayload is the provider's webhook body. Field names follow
// the Brevo transactional webhook format.
type brevoWebhookPayload struct {
	ID        int64  `json:"id"`
	Event     string `json:"event"`
	Email     string `json:"email"`
	MessageID string `json:"message-id"`
	Date      string `json:"date"`
	TsEvent   int64  `json:"ts_event"`
	Link      string `json:"link"`
	Reason    string `json:"reason"`
}

// eventID derives the idempotence key. Brevo's numeric id is preferred;
// older payloads without one get a composite of the identifying fields.
func (p brevoWebhookPayload) eventID() string {
	if p.ID != 0 {
		return fmt.Sprintf("brevo-%d", p.ID)
	}
	return fmt.Sprintf("brevo-%s-%s-%s-%d", p.Event, p.Email, p.MessageID, p.TsEvent)
}

func (p brevoWebhookPayload) timestamp() time.Time {
	if p.TsEvent > 0 {
		return time.Unix(p.TsEvent, 0)
	}
	if p.Date != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, p.Date); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// ProviderWebhook ingests one provider event. Replayed and unresolvable
// events still return 200 so the provider stops retrying; only malformed
// payloads are rejected.
func (h *Handlers) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return
	}

	var payload brevoWebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		httputil.BadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if payload.Event == "" {
		httputil.BadRequest(w, "missing event type")
		return
	}

	outcome, err := h.ingestor.Process(r.Context(), engine.InboundEvent{
		ProviderEventID:   payload.eventID(),
		Provider:          "brevo",
		EventType:         payload.Event,
		RecipientEmail:    payload.Email,
		ProviderMessageID: payload.MessageID,
		ClickedURL:        payload.Link,
		BounceReason:      payload.Reason,
		Timestamp:         payload.timestamp(),
		RawPayload:        raw,
	})
	if err != nil {
		if engine.IsValidation(err) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]string{"outcome": string(outcome)})
}

type enrollRequest struct {
	ContactID uuid.UUID `json:"contact_id"`
}

// EnrollContact enrolls one contact into a campaign's sequence.
func (h *Handlers) EnrollContact(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		httputil.BadRequest(w, "invalid campaign id")
		return
	}

	var req enrollRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.ContactID == uuid.Nil {
		httputil.BadRequest(w, "contact_id is required")
		return
	}

	result, err := h.planner.Enroll(r.Context(), req.ContactID, campaignID)
	switch {
	case err == nil:
		httputil.OK(w, result)
	case errors.Is(err, engine.ErrAlreadyEnrolled):
		httputil.Conflict(w, "contact already enrolled in campaign")
	case errors.Is(err, engine.ErrNotFound):
		httputil.NotFound(w, "contact or campaign not found")
	case engine.IsValidation(err):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}

// SequenceStatus reports a contact's progress through a campaign.
func (h *Handlers) SequenceStatus(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		httputil.BadRequest(w, "invalid campaign id")
		return
	}
	contactID, err := uuid.Parse(chi.URLParam(r, "contactID"))
	if err != nil {
		httputil.BadRequest(w, "invalid contact id")
		return
	}

	status, err := h.planner.Status(r.Context(), contactID, campaignID)
	switch {
	case err == nil:
		httputil.OK(w, status)
	case errors.Is(err, engine.ErrNotFound):
		httputil.NotFound(w, "enrollment not found")
	default:
		httputil.InternalError(w, err)
	}
}

// Stats exposes dispatcher counters for operational visibility.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{}
	if h.dispatcher != nil {
		resp["dispatcher"] = h.dispatcher.Stats()
	}
	httputil.OK(w, resp)
}
