package engine

// CancelScope says which of a contact's pending jobs an event cancels.
type CancelScope string

const (
	ScopeNone     CancelScope = "none"
	ScopeCampaign CancelScope = "campaign"
	ScopeGlobal   CancelScope = "global"
)

// ContactState is the slice of contact state the policy needs. The soft
// bounce counter is the value before the current event is applied.
type ContactState struct {
	IsSubscribed    bool
	EmailStatus     EmailStatus
	SoftBounceCount int
	MarkedAsSpam    bool
}

// ContactMutations describes the contact changes an event demands. Zero
// values mean "leave unchanged".
type ContactMutations struct {
	Unsubscribe         bool
	MarkSpam            bool
	SetEmailStatus      EmailStatus
	IncrementSoftBounce bool
	MarkResponded       bool // applies to the originating campaign only
}

// Decision is the outcome of the reply/bounce policy for one event.
type Decision struct {
	CancelScope  CancelScope
	CancelReason string
	Mutations    ContactMutations
}

// Policy maps an event type plus contact state to a cancellation scope and
// contact mutations. It is pure: no storage, no transport.
type Policy struct {
	// SoftBounceLimit is the number of soft bounces at which the contact is
	// escalated to hard-bounce suppression.
	SoftBounceLimit int
}

// NewPolicy returns a Policy with the given soft-bounce escalation limit.
// Non-positive limits fall back to the default of 3.
func NewPolicy(softBounceLimit int) *Policy {
	if softBounceLimit <= 0 {
		softBounceLimit = 3
	}
	return &Policy{SoftBounceLimit: softBounceLimit}
}

// Decide returns the cancellation scope and contact mutations for an event.
func (p *Policy) Decide(t EventType, st ContactState) Decision {
	switch t {
	case EventBouncedSoft:
		m := ContactMutations{IncrementSoftBounce: true, SetEmailStatus: EmailSoftBounced}
		if st.SoftBounceCount+1 >= p.SoftBounceLimit {
			// Third strike: treat the address as gone.
			m.SetEmailStatus = EmailHardBounced
			return Decision{CancelScope: ScopeGlobal, CancelReason: CancelReasonHardBounce, Mutations: m}
		}
		return Decision{CancelScope: ScopeNone, Mutations: m}

	case EventBouncedHard:
		return Decision{
			CancelScope:  ScopeGlobal,
			CancelReason: CancelReasonHardBounce,
			Mutations:    ContactMutations{SetEmailStatus: EmailHardBounced},
		}

	case EventComplained:
		return Decision{
			CancelScope:  ScopeGlobal,
			CancelReason: CancelReasonComplaint,
			Mutations:    ContactMutations{MarkSpam: true, Unsubscribe: true},
		}

	case EventUnsubscribed:
		return Decision{
			CancelScope:  ScopeGlobal,
			CancelReason: CancelReasonUnsubscribed,
			Mutations:    ContactMutations{Unsubscribe: true},
		}

	case EventReplied:
		return Decision{
			CancelScope:  ScopeCampaign,
			CancelReason: CancelReasonReplied,
			Mutations:    ContactMutations{MarkResponded: true},
		}

	default:
		// delivered, opened, clicked and unknown types never cancel anything;
		// their timestamp/counter effects are handled by the ingestor.
		return Decision{CancelScope: ScopeNone}
	}
}
