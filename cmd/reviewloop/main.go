package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/reviewloop/reviewloop/internal/account"
	"github.com/reviewloop/reviewloop/internal/audit"
	"github.com/reviewloop/reviewloop/internal/billingsync"
	"github.com/reviewloop/reviewloop/internal/clock"
	"github.com/reviewloop/reviewloop/internal/config"
	"github.com/reviewloop/reviewloop/internal/ledger"
	"github.com/reviewloop/reviewloop/internal/logger"
	"github.com/reviewloop/reviewloop/internal/migration"
	"github.com/reviewloop/reviewloop/internal/observability"
	paymentstripe "github.com/reviewloop/reviewloop/internal/payment/stripe"
	"github.com/reviewloop/reviewloop/internal/scheduler"
	"github.com/reviewloop/reviewloop/internal/server"
	"github.com/reviewloop/reviewloop/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		audit.Module,
		account.Module,
		ledger.Module,
		paymentstripe.Module,
		billingsync.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
