package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type CreateAccountRequest struct {
	Name          string `json:"name"`
	IsFreeAccount bool   `json:"is_free_account"`
}

type Service interface {
	Create(ctx context.Context, req CreateAccountRequest) (*Account, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Account, error)
	// Reconcile compares the stored billing fields against an external
	// subscription snapshot and applies the difference atomically. Repeat
	// calls with an identical snapshot are no-ops.
	Reconcile(ctx context.Context, accountID snowflake.ID, sub ExternalSubscription) (ReconciliationResult, error)
}
