package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/examforge/examforge/internal/auth"
	"github.com/examforge/examforge/internal/billing"
	"github.com/examforge/examforge/internal/exam"
	"github.com/examforge/examforge/internal/quota"
	"github.com/examforge/examforge/internal/server"
	"github.com/examforge/examforge/internal/subscription"
	"github.com/examforge/examforge/pkg/config"
	"github.com/examforge/examforge/pkg/httpserver"
	"github.com/examforge/examforge/pkg/jwt"
	"github.com/examforge/examforge/pkg/logger"
	"github.com/examforge/examforge/pkg/pg"
)

type appConfig struct {
	JWTSigningKey string        `env:"JWT_SIGNING_KEY,required"`
	TokenTTL      time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	PlansPath     string        `env:"PLANS_PATH" envDefault:"plans.yaml"`
	SuccessURL    string        `env:"CHECKOUT_SUCCESS_URL,required"`
	CancelURL     string        `env:"CHECKOUT_CANCEL_URL,required"`
}

func main() {
	var (
		appCfg    appConfig
		logCfg    logger.Config
		pgCfg     pg.Config
		paddleCfg billing.PaddleConfig
		httpCfg   httpserver.Config
	)
	config.MustLoad(&appCfg)
	config.MustLoad(&logCfg)
	config.MustLoad(&pgCfg)
	config.MustLoad(&paddleCfg)
	config.MustLoad(&httpCfg)

	log := logger.NewFromConfig(logCfg, slog.String("service", "examforge"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, log, appCfg, pgCfg, paddleCfg, httpCfg); err != nil {
		log.ErrorContext(ctx, "server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, appCfg appConfig, pgCfg pg.Config, paddleCfg billing.PaddleConfig, httpCfg httpserver.Config) error {
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return err
	}
	if err := subscription.SeedPlans(ctx, pool, appCfg.PlansPath); err != nil {
		return err
	}

	provider, err := billing.NewPaddleProvider(paddleCfg)
	if err != nil {
		return err
	}

	tokens, err := jwt.NewFromString(appCfg.JWTSigningKey)
	if err != nil {
		return err
	}

	ledger := subscription.NewPgStore(pool)
	registry := subscription.NewPgRegistry(pool)
	authSvc := auth.NewService(auth.NewPgStore(pool), tokens, appCfg.TokenTTL)

	reconciler := subscription.NewReconciler(
		ledger,
		subscription.NewIdentityResolver(provider),
		subscription.NewPlanResolver(registry, provider, log),
		provider,
		authSvc,
		log,
	)
	billingSvc := subscription.NewBillingService(
		provider, ledger, registry,
		appCfg.SuccessURL, appCfg.CancelURL, log,
	)

	tracker := quota.NewTracker(quota.NewPgStore(pool))
	examSvc := exam.NewService(exam.NewPgStore(pool), tracker, log)

	router := server.NewRouter(server.Deps{
		Log:        log,
		Tokens:     tokens,
		Auth:       authSvc,
		Reconciler: reconciler,
		Billing:    billingSvc,
		Provider:   provider,
		Tracker:    tracker,
		Exams:      examSvc,
		DBHealth:   pg.Healthcheck(pool),
	})

	return httpserver.New(httpCfg, log).Run(ctx, router)
}
