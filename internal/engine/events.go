package engine

import "strings"

// EventType is the internal event taxonomy. Provider-specific strings are
// mapped through normalizeMap; anything unmapped becomes EventUnknown,
// which is persisted but never acted on.
type EventType string

const (
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBouncedSoft  EventType = "bounced_soft"
	EventBouncedHard  EventType = "bounced_hard"
	EventComplained   EventType = "complained"
	EventUnsubscribed EventType = "unsubscribed"
	EventReplied      EventType = "replied"
	EventUnknown      EventType = "unknown"
)

// normalizeMap is the exhaustive mapping from provider event strings to the
// internal taxonomy. Brevo and SendGrid spellings are both listed because
// the webhook formats only differ in the event names.
var normalizeMap = map[string]EventType{
	"delivered": EventDelivered,
	"delivery":  EventDelivered,

	"opened":        EventOpened,
	"open":          EventOpened,
	"unique_opened": EventOpened,

	"clicked": EventClicked,
	"click":   EventClicked,

	"soft_bounce":  EventBouncedSoft,
	"soft_bounced": EventBouncedSoft,

	"hard_bounce":  EventBouncedHard,
	"hard_bounced": EventBouncedHard,
	"bounce":       EventBouncedHard,
	"bounced":      EventBouncedHard,
	// A block from the recipient server ends the address the same way a
	// hard bounce does.
	"blocked": EventBouncedHard,
	"block":   EventBouncedHard,

	"spam":        EventComplained,
	"complaint":   EventComplained,
	"complained":  EventComplained,
	"spam_report": EventComplained,

	"unsubscribed": EventUnsubscribed,
	"unsubscribe":  EventUnsubscribed,

	"replied": EventReplied,
	"reply":   EventReplied,
}

// NormalizeEventType maps a provider event string to the internal taxonomy.
func NormalizeEventType(provider string) EventType {
	if t, ok := normalizeMap[strings.ToLower(strings.TrimSpace(provider))]; ok {
		return t
	}
	return EventUnknown
}
