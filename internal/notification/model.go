package notification

import (
	"strconv"
	"time"
)

// Kind defines the type of notification pushed by the backend.
type Kind string

const (
	BookingCreated   Kind = "booking_created"
	BookingAccepted  Kind = "booking_accepted"
	BookingRejected  Kind = "booking_rejected"
	BookingCompleted Kind = "booking_completed"
	BookingCancelled Kind = "booking_cancelled"
	PaymentReceived  Kind = "payment_received"
	PaymentReleased  Kind = "payment_released"
	JobStarted       Kind = "job_started"
	JobCompleted     Kind = "job_completed"
)

// HighPriority reports whether this kind warrants the urgent alert treatment.
// The set is fixed at creation time server-side; this mirrors it for clients
// that construct notifications locally (dev broker, tests).
func (k Kind) HighPriority() bool {
	switch k {
	case BookingRejected, BookingCancelled, PaymentReceived, PaymentReleased:
		return true
	default:
		return false
	}
}

// Role identifies which side of the marketplace owns a subscription topic.
type Role string

const (
	RoleUser     Role = "user"
	RoleProvider Role = "provider"
)

// Valid reports whether the role is one of the known marketplace roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleProvider
}

// Topic derives the pub/sub topic for a recipient, e.g. "user/42/notifications".
// It is re-derived on every (re)connect; topics are never reused across
// identity changes.
func Topic(role Role, userID int64) string {
	return string(role) + "/" + strconv.FormatInt(userID, 10) + "/notifications"
}

// Notification represents one server-issued notification cached client-side.
// ID is the identity key for dedup; IsRead is the only field mutated after
// creation.
type Notification struct {
	ID               int64     `json:"id"`
	RecipientID      int64     `json:"recipientId"`
	Kind             Kind      `json:"kind"`
	Title            string    `json:"title"`
	Message          string    `json:"message"`
	IsRead           bool      `json:"isRead"`
	IsHighPriority   bool      `json:"isHighPriority"`
	RelatedBookingID *int64    `json:"relatedBookingId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// AlertLevel selects the visual treatment of the ephemeral alert shown when a
// notification arrives on the live channel.
type AlertLevel string

const (
	AlertUrgent  AlertLevel = "urgent"
	AlertSuccess AlertLevel = "success"
)

// Alert describes the ephemeral user-facing side effect of an incoming
// notification. Consumers render it however they like; the level/duration
// mapping lives here so restyling never touches the store.
type Alert struct {
	Level    AlertLevel
	Duration time.Duration
}

// AlertFor maps a notification to its alert treatment: high-priority
// notifications get the urgent treatment for 5s, everything else success for 3s.
func AlertFor(n Notification) Alert {
	if n.IsHighPriority {
		return Alert{Level: AlertUrgent, Duration: 5 * time.Second}
	}
	return Alert{Level: AlertSuccess, Duration: 3 * time.Second}
}
