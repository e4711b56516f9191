// Package domain contains the tenant billing record and the reconciliation
// contract against the external payment platform.
package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/reviewloop/reviewloop/internal/catalog"
)

// SubscriptionStatus mirrors the payment platform's subscription lifecycle.
type SubscriptionStatus string

const (
	SubscriptionStatusNone       SubscriptionStatus = "none"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused     SubscriptionStatus = "paused"
)

// ParseSubscriptionStatus maps an external lifecycle string onto the internal
// enum. Unknown values are rejected, never defaulted.
func ParseSubscriptionStatus(raw string) (SubscriptionStatus, error) {
	status := SubscriptionStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue,
		SubscriptionStatusCanceled, SubscriptionStatusIncomplete, SubscriptionStatusUnpaid,
		SubscriptionStatusPaused:
		return status, nil
	default:
		return "", ErrInvalidSubscriptionStructure
	}
}

// Account is the tenant billing record. Billing fields are mutated only by
// the reconciler; rows are soft-deleted so billing history survives
// cancellation.
type Account struct {
	ID                     snowflake.ID           `gorm:"primaryKey"`
	Name                   string                 `gorm:"type:text;not null"`
	Plan                   catalog.PlanKey        `gorm:"type:text;not null;default:no_plan"`
	BillingPeriod          catalog.BillingPeriod  `gorm:"type:text;not null;default:none"`
	ExternalCustomerID     *string                `gorm:"type:text;index"`
	ExternalSubscriptionID *string                `gorm:"type:text;index"`
	SubscriptionStatus     SubscriptionStatus     `gorm:"type:text;not null;default:none"`
	IsFreeAccount          bool                   `gorm:"not null;default:false"`
	HasHadPaidPlan         bool                   `gorm:"not null;default:false"`
	CreatedAt              time.Time              `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time              `gorm:"not null;default:CURRENT_TIMESTAMP"`
	DeletedAt              gorm.DeletedAt         `gorm:"index"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// ExternalSubscription is the minimal snapshot the reconciler requires,
// regardless of which payment platform supplies it.
type ExternalSubscription struct {
	ID         string
	CustomerID string
	Status     string
	LineItems  []LineItem
}

type LineItem struct {
	PriceID string
}

// ReconcileOutcome tags the result of a reconciliation attempt.
type ReconcileOutcome string

const (
	OutcomeUpdated       ReconcileOutcome = "updated"
	OutcomeAlreadyInSync ReconcileOutcome = "already_in_sync"
)

// BillingFields is a point-in-time copy of the reconciled account fields,
// kept for auditing.
type BillingFields struct {
	Plan                   catalog.PlanKey       `json:"plan"`
	BillingPeriod          catalog.BillingPeriod `json:"billing_period"`
	SubscriptionStatus     SubscriptionStatus    `json:"subscription_status"`
	ExternalCustomerID     string                `json:"external_customer_id,omitempty"`
	ExternalSubscriptionID string                `json:"external_subscription_id,omitempty"`
	HasHadPaidPlan         bool                  `json:"has_had_paid_plan"`
}

type ReconciliationResult struct {
	Outcome ReconcileOutcome `json:"outcome"`
	Before  BillingFields    `json:"before"`
	After   BillingFields    `json:"after"`
}

var (
	ErrAccountNotFound = errors.New("account_not_found")
	// ErrInvalidSubscriptionStructure marks a malformed external snapshot.
	// Terminal for the attempt; the stored account is left untouched.
	ErrInvalidSubscriptionStructure = errors.New("invalid_subscription_structure")
	// ErrUnknownPrice marks a catalog gap. Terminal; requires a deployment fix.
	ErrUnknownPrice = errors.New("unknown_price")
)
