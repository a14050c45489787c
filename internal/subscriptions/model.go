package subscriptions

import (
	"errors"
	"time"
)

// Status of a subscription record. The empty value means no record exists yet.
type Status string

const (
	StatusNone      Status = ""
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
)

var (
	ErrNotFound          = errors.New("subscriptions: subscription not found")
	ErrNotActivated      = errors.New("subscriptions: subscription not activated yet")
	ErrPlanNotFound      = errors.New("subscriptions: plan not found")
	ErrUserNotFound      = errors.New("subscriptions: user not found")
	ErrInvalidTransition = errors.New("subscriptions: invalid status transition")
)

// Subscription is a user's paid plan at a payment provider.
type Subscription struct {
	ID                     string
	UserID                 string
	PlanID                 string
	Status                 Status
	Provider               string
	ExternalSubscriptionID string
	StartDate              time.Time
	UpdatedAt              time.Time
}

// Plan is a sellable subscription tier.
type Plan struct {
	ID         string
	Name       string
	PriceCents int64
	Currency   string
	Period     string
}

// Snapshot is the copy of the active plan embedded on the user row, read by
// the rest of the marketplace without joining subscriptions.
type Snapshot struct {
	SubscriptionID string
	PlanID         string
	Status         Status
	PriceCents     int64
	Currency       string
	Period         string
}

// SnapshotFor builds the user snapshot for a plan.
func SnapshotFor(subscriptionID string, plan Plan, status Status) Snapshot {
	return Snapshot{
		SubscriptionID: subscriptionID,
		PlanID:         plan.ID,
		Status:         status,
		PriceCents:     plan.PriceCents,
		Currency:       plan.Currency,
		Period:         plan.Period,
	}
}
