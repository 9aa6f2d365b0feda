package main

import (
	"context"
	"log/slog"
	"os"

	"calsync/config"
	"calsync/internal/delivery"
	"calsync/internal/delivery/http"
	"calsync/internal/delivery/http/middleware"
	"calsync/internal/delivery/http/router/handler"
	"calsync/internal/delivery/worker"
	"calsync/internal/domain/provider"
	logs "calsync/internal/infra/log"
	"calsync/internal/infra/metrics"
	"calsync/internal/infra/oauth"
	"calsync/internal/infra/persistence/postgres"
	"calsync/internal/infra/provider/googlecal"
	"calsync/internal/infra/provider/msgraph"
	"calsync/internal/usecase/impl"

	"go.uber.org/fx"
)

type startServerParams struct {
	fx.In
	fx.Lifecycle

	Deliveries []delivery.Delivery `group:"deliveries"`
}

func main() {
	fx.New(
		injectInfra(),
		injectRepo(),
		injectService(),
		injectUsecase(),
		injectDelivery(),
		injectMiddleware(),
		injectHandler(),
		fx.Invoke(
			startServer,
		),
	).Run()
}

func injectInfra() fx.Option {
	return fx.Provide(
		config.New,
		logs.New,
		context.Background,
		postgres.New,
		metrics.NewDefault,
	)
}

func injectRepo() fx.Option {
	return fx.Options(
		fx.Provide(
			postgres.NewConnectionRepository,
			postgres.NewSyncedCalendarRepository,
			postgres.NewEventMappingRepository,
			postgres.NewEventRepository,
			postgres.NewCalendarRepository,
			postgres.NewUserRepository,
		),
	)
}

func injectService() fx.Option {
	return fx.Options(
		fx.Provide(
			oauth.New,
			fx.Annotate(
				googlecal.New,
				fx.As(new(provider.Adapter)),
				fx.ResultTags(`group:"providers"`),
			),
			fx.Annotate(
				msgraph.New,
				fx.As(new(provider.Adapter)),
				fx.ResultTags(`group:"providers"`),
			),
		),
	)
}

func injectUsecase() fx.Option {
	return fx.Options(
		fx.Provide(
			impl.NewSyncService,
			impl.NewLocalChangeHooks,
		),
	)
}

func injectMiddleware() fx.Option {
	return fx.Options(
		fx.Provide(
			middleware.NewAuthMiddleware,
		),
	)
}

func injectHandler() fx.Option {
	return fx.Options(
		fx.Provide(
			handler.NewSyncHandler,
		),
	)
}

func injectDelivery() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				http.NewServer,
				fx.ResultTags(`group:"deliveries"`),
			),
			fx.Annotate(
				worker.NewWorker,
				fx.ResultTags(`group:"deliveries"`),
			),
		),
	)
}

func startServer(ctx context.Context, params startServerParams) {
	for _, delivery := range params.Deliveries {
		go func() {
			if err := delivery.Serve(ctx); err != nil {
				slog.Error("Failed to start server", slog.Any("error", err))
				os.Exit(1)
			}
		}()
	}
}
