package server

import (
	"github.com/ghaggin/homepage/internal/middleware"
	"github.com/ghaggin/homepage/internal/repository"
	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(
		New,
		NewController,
		repository.NewJSON,
		middleware.NewSessionManager,
	),
)
