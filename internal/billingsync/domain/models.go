// Package domain defines the sync surface between accounts and the external
// payment platform: pulling fresh subscription snapshots on demand and
// reacting to pushed webhook events.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	accountdomain "github.com/reviewloop/reviewloop/internal/account/domain"
)

// SubscriptionFetcher retrieves a live subscription snapshot from the
// payment platform. Implementations must be safe for concurrent use.
type SubscriptionFetcher interface {
	FetchSubscription(ctx context.Context, subscriptionID string) (accountdomain.ExternalSubscription, error)
}

// SyncOutcome tags the result of a sync attempt.
type SyncOutcome string

const (
	// OutcomeNothingToSync means the account carries no subscription
	// reference, so there is nothing to fetch.
	OutcomeNothingToSync SyncOutcome = "nothing_to_sync"
	OutcomeSynced        SyncOutcome = "synced"
)

type SyncResult struct {
	Outcome        SyncOutcome                         `json:"outcome"`
	Reconciliation *accountdomain.ReconciliationResult `json:"reconciliation,omitempty"`
}

// Event is a normalized webhook notification. ID is the platform's event ID
// and doubles as the idempotency scope for any credit grant it triggers.
type Event struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	SubscriptionID string `json:"subscription_id"`
}

const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	// EventInvoicePaid fires on every successful invoice, including the
	// renewal at each cycle boundary.
	EventInvoicePaid = "invoice.paid"
)

type Service interface {
	// SyncAccount fetches the account's live subscription and reconciles
	// stored billing fields against it.
	SyncAccount(ctx context.Context, accountID snowflake.ID) (SyncResult, error)
	// HandleEvent reacts to a pushed webhook event. Events for subscriptions
	// no account references are acknowledged and dropped.
	HandleEvent(ctx context.Context, event Event) error
}

var (
	ErrInvalidEvent = errors.New("invalid_event")
)
