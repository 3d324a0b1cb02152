package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// InboundEvent is a provider webhook event after transport decoding but
// before any engine processing.
type InboundEvent struct {
	ProviderEventID   string
	Provider          string
	EventType         string // provider spelling, normalized internally
	RecipientEmail    string
	ProviderMessageID string
	ClickedURL        string
	BounceReason      string
	Timestamp         time.Time
	RawPayload        []byte
}

// IngestOutcome says what processing an event received.
type IngestOutcome string

const (
	OutcomeProcessed  IngestOutcome = "processed"
	OutcomeDuplicate  IngestOutcome = "duplicate"
	OutcomeUnresolved IngestOutcome = "unresolved"
)

// Ingestor turns provider webhook events into engine state changes. Events
// are persisted before any processing, so a crash mid-event loses nothing,
// and the unique provider event id makes redelivery a no-op.
type Ingestor struct {
	store  *Store
	policy *Policy
}

func NewIngestor(store *Store, policy *Policy) *Ingestor {
	if policy == nil {
		policy = NewPolicy(0)
	}
	return &Ingestor{store: store, policy: policy}
}

// Process handles one inbound event end to end: persist, resolve, stamp,
// apply policy. Duplicates and unresolved recipients are reported in the
// outcome, not as errors; both end the webhook exchange with success.
func (ing *Ingestor) Process(ctx context.Context, ev InboundEvent) (IngestOutcome, error) {
	if ev.ProviderEventID == "" {
		return "", Validationf("event has no provider event id")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	eventType := NormalizeEventType(ev.EventType)
	record := &WebhookEvent{
		ProviderEventID:   ev.ProviderEventID,
		Provider:          ev.Provider,
		EventType:         eventType,
		RawPayload:        ev.RawPayload,
		RecipientEmail:    ev.RecipientEmail,
		ProviderMessageID: ev.ProviderMessageID,
		ClickedURL:        ev.ClickedURL,
		BounceReason:      ev.BounceReason,
		EventTimestamp:    ev.Timestamp,
	}

	if err := ing.store.InsertWebhookEvent(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			logger.Debug("webhook replay ignored",
				"component", "ingestor",
				"provider_event_id", ev.ProviderEventID)
			return OutcomeDuplicate, nil
		}
		return "", fmt.Errorf("persist event: %w", err)
	}

	contact, email, err := ing.resolve(ctx, ev)
	if err != nil {
		return "", fmt.Errorf("resolve recipient: %w", err)
	}
	if contact == nil {
		if err := ing.store.MarkEventProcessed(ctx, record.ID, "unresolved", nil); err != nil {
			return "", fmt.Errorf("flag unresolved event: %w", err)
		}
		logger.Warn("webhook recipient unresolved",
			"component", "ingestor",
			"provider_event_id", ev.ProviderEventID,
			"recipient", ev.RecipientEmail)
		return OutcomeUnresolved, nil
	}

	if err := ing.apply(ctx, eventType, ev, contact, email); err != nil {
		return "", err
	}

	if err := ing.store.MarkEventProcessed(ctx, record.ID, "resolved", &contact.ID); err != nil {
		return "", fmt.Errorf("finalize event: %w", err)
	}
	return OutcomeProcessed, nil
}

// resolve matches the event to a contact, preferring the recipient email
// and falling back to the provider message id when the email is missing or
// unknown. The matched email row rides along when available. Only a clean
// miss on every lookup yields a nil contact; any other store error is
// returned so the event stays unprocessed and a redelivery can retry it.
func (ing *Ingestor) resolve(ctx context.Context, ev InboundEvent) (*Contact, *Email, error) {
	var email *Email
	if ev.ProviderMessageID != "" {
		e, err := ing.store.EmailByProviderMessageID(ctx, ev.ProviderMessageID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("lookup email by message id: %w", err)
		}
		email = e
	}

	if ev.RecipientEmail != "" {
		c, err := ing.store.FindContactByEmail(ctx, ev.RecipientEmail)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("lookup contact by email: %w", err)
		}
		if c != nil {
			if email == nil {
				e, err := ing.store.LatestEmailForContact(ctx, c.ID)
				if err != nil && !errors.Is(err, ErrNotFound) {
					return nil, nil, fmt.Errorf("lookup latest email: %w", err)
				}
				email = e
			}
			return c, email, nil
		}
	}

	if email != nil {
		c, err := ing.store.GetContact(ctx, email.ContactID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("lookup contact by id: %w", err)
		}
		if c != nil {
			return c, email, nil
		}
	}
	return nil, nil, nil
}

// apply performs the event's state changes: email stamps, engagement
// counters, policy mutations, and job cancellation.
func (ing *Ingestor) apply(ctx context.Context, t EventType, ev InboundEvent, contact *Contact, email *Email) error {
	if email != nil {
		if err := ing.store.StampEmailEvent(ctx, email.ID, t, ev.Timestamp, ev.ClickedURL); err != nil {
			return fmt.Errorf("stamp email: %w", err)
		}
	}
	if t == EventOpened || t == EventClicked {
		if err := ing.store.RecordEngagement(ctx, contact.ID, t, ev.Timestamp); err != nil {
			return fmt.Errorf("record engagement: %w", err)
		}
	}

	decision := ing.policy.Decide(t, ContactState{
		IsSubscribed:    contact.IsSubscribed,
		EmailStatus:     contact.EmailStatus,
		SoftBounceCount: contact.SoftBounceCount,
		MarkedAsSpam:    contact.MarkedAsSpam,
	})

	if err := ing.store.ApplyContactMutations(ctx, contact.ID, decision.Mutations); err != nil {
		return fmt.Errorf("apply contact mutations: %w", err)
	}

	if decision.Mutations.MarkResponded && email != nil {
		first, err := ing.store.MarkResponded(ctx, contact.ID, email.CampaignID)
		if err != nil {
			return fmt.Errorf("mark responded: %w", err)
		}
		if first {
			if err := ing.store.IncrementCampaignResponses(ctx, email.CampaignID); err != nil {
				return fmt.Errorf("bump response count: %w", err)
			}
		}
	}

	if (t == EventBouncedSoft || t == EventBouncedHard) && email != nil {
		if err := ing.store.IncrementCampaignBounces(ctx, email.CampaignID); err != nil {
			return fmt.Errorf("bump bounce count: %w", err)
		}
	}

	switch decision.CancelScope {
	case ScopeGlobal:
		n, err := ing.store.CancelContactJobs(ctx, contact.ID, decision.CancelReason)
		if err != nil {
			return fmt.Errorf("cancel contact jobs: %w", err)
		}
		if n > 0 {
			logger.Info("pending jobs cancelled",
				"component", "ingestor",
				"contact_id", contact.ID.String(),
				"scope", "global",
				"reason", decision.CancelReason,
				"count", n)
		}
	case ScopeCampaign:
		campaignID := ing.campaignFor(ev, email)
		if campaignID == uuid.Nil {
			// A reply we cannot tie to a campaign cancels nothing; the
			// event row stays for manual review.
			logger.Warn("reply without campaign context",
				"component", "ingestor",
				"contact_id", contact.ID.String(),
				"provider_event_id", ev.ProviderEventID)
			return nil
		}
		n, err := ing.store.CancelCampaignJobs(ctx, contact.ID, campaignID, decision.CancelReason)
		if err != nil {
			return fmt.Errorf("cancel campaign jobs: %w", err)
		}
		if n > 0 {
			logger.Info("pending jobs cancelled",
				"component", "ingestor",
				"contact_id", contact.ID.String(),
				"campaign_id", campaignID.String(),
				"scope", "campaign",
				"reason", decision.CancelReason,
				"count", n)
		}
	}
	return nil
}

func (ing *Ingestor) campaignFor(_ InboundEvent, email *Email) uuid.UUID {
	if email != nil {
		return email.CampaignID
	}
	return uuid.Nil
}
