package audit

import (
	"go.uber.org/fx"

	"github.com/reviewloop/reviewloop/internal/audit/repository"
	"github.com/reviewloop/reviewloop/internal/audit/service"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
