package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/memberhealth/benefits/internal/config"
	"github.com/memberhealth/benefits/internal/domain/accumulation"
	"github.com/memberhealth/benefits/internal/domain/appointments"
	"github.com/memberhealth/benefits/internal/domain/careadvocate"
	"github.com/memberhealth/benefits/internal/domain/costbreakdown"
	"github.com/memberhealth/benefits/internal/domain/healthplan"
	"github.com/memberhealth/benefits/internal/domain/wallet"
	"github.com/memberhealth/benefits/internal/platform/auth"
	"github.com/memberhealth/benefits/internal/platform/db"
	"github.com/memberhealth/benefits/internal/platform/events"
	"github.com/memberhealth/benefits/internal/platform/filestore"
	"github.com/memberhealth/benefits/internal/platform/jobs"
	"github.com/memberhealth/benefits/internal/platform/notification"
	"github.com/memberhealth/benefits/internal/platform/queue"
	"github.com/memberhealth/benefits/internal/platform/ratelimit"
)

// systemUser is the identity background jobs run as.
const systemUser = "system"

// app holds the wired services shared by the server, the worker and the
// one-shot commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client

	notifier      *notification.Notifier
	plans         *healthplan.Service
	wallets       *wallet.Service
	breakdowns    *costbreakdown.Service
	accumulations *accumulation.Service
	advocates     *careadvocate.Service
	appointments  *appointments.Service
	limiter       *ratelimit.Limiter

	closers []func()
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Hour,
	})
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	logger.Info().Msg("connected to database")

	// Storage and messaging fall back to in-memory implementations when the
	// backing service is not configured.
	var awsCfg aws.Config
	if cfg.S3Bucket != "" || cfg.SQSTransferQueue != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load aws config: %w", err)
		}
	}

	var files filestore.Store = filestore.NewMemoryStore()
	if cfg.S3Bucket != "" {
		files = filestore.NewS3Store(awsCfg, cfg.S3Bucket)
	} else {
		logger.Warn().Msg("S3_BUCKET not set, accumulation files are kept in memory")
	}

	var transfer queue.Publisher = queue.NewRecorder()
	if cfg.SQSTransferQueue != "" {
		sqsPub, err := queue.NewSQSPublisher(ctx, awsCfg, cfg.SQSTransferQueue)
		if err != nil {
			a.Close()
			return nil, err
		}
		transfer = sqsPub
	}

	var publisher notification.Publisher = events.NewRecorder()
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		a.closers = append(a.closers, func() {
			if err := kp.Close(); err != nil {
				logger.Warn().Err(err).Msg("close kafka writer")
			}
		})
		publisher = kp
	} else {
		logger.Warn().Msg("KAFKA_BROKERS not set, member events are not published")
	}

	var counters ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
		a.closers = append(a.closers, func() { _ = a.redis.Close() })
		counters = ratelimit.NewRedisStore(a.redis)
	}
	rules := ratelimit.DefaultRules()
	rules[ratelimit.ScopeAPI] = ratelimit.Rule{
		Limit:  cfg.RateLimitRequests,
		Window: time.Duration(cfg.RateLimitWindowSeconds) * time.Second,
	}
	a.limiter = ratelimit.NewLimiter(counters, rules)

	tx := db.NewTransactor(pool)

	a.notifier = notification.NewNotifier(notification.NewTemplateEngine(), notification.NewStorePG(pool), publisher, logger)

	a.plans = healthplan.NewService(
		healthplan.NewEmployerPlanRepoPG(pool),
		healthplan.NewMemberPlanRepoPG(pool),
		healthplan.NewYTDSpendRepoPG(pool),
	)

	a.wallets = wallet.NewService(
		wallet.NewWalletRepoPG(pool),
		wallet.NewRequestRepoPG(pool),
		wallet.NewProcedureRepoPG(pool),
		wallet.NewBillRepoPG(pool),
		logger,
	)
	a.wallets.SetNotifier(a.notifier)
	a.wallets.SetTransactor(tx)

	a.breakdowns = costbreakdown.NewService(costbreakdown.NewRepoPG(pool), a.wallets, a.plans, a.wallets, logger)
	a.breakdowns.SetTransactor(tx)

	a.accumulations = accumulation.NewService(
		accumulation.NewMappingRepoPG(pool),
		accumulation.NewReportRepoPG(pool),
		a.plans, files, transfer, logger,
	)
	a.accumulations.SetSources(a.breakdowns, a.wallets)
	a.accumulations.SetTransactor(tx)
	if cfg.AccumulationAlertTo != "" {
		recipient, err := uuid.Parse(cfg.AccumulationAlertTo)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("ACCUMULATION_ALERT_RECIPIENT: %w", err)
		}
		a.accumulations.SetAlerts(a.notifier, recipient)
	}
	a.wallets.SetAccumulationRecorder(a.accumulations)

	a.advocates = careadvocate.NewService(
		careadvocate.NewAdvocateRepoPG(pool),
		careadvocate.NewAssignmentRepoPG(pool),
		careadvocate.NewTransitionLogRepoPG(pool),
		a.notifier, logger,
	)
	a.advocates.SetTransactor(tx)

	a.appointments = appointments.NewService(
		appointments.NewProductRepoPG(pool),
		appointments.NewAppointmentRepoPG(pool),
		a.notifier, logger,
	)
	a.appointments.SetTransactor(tx)

	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// healthDeps lists the dependencies reported by /health/db besides postgres.
func (a *app) healthDeps() map[string]db.Pinger {
	deps := map[string]db.Pinger{}
	if a.redis != nil {
		deps["redis"] = redisPinger{a.redis}
	}
	return deps
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }

// Job names.
const (
	jobAccumulationGenerate = "accumulation.generate"
	jobAdvocateTransitions  = "careadvocate.transitions"
	jobAppointmentReminders = "appointments.reminders"
	jobNotificationRetry    = "notification.retry_failed"
)

func (a *app) runner() (*jobs.Runner, error) {
	r := jobs.NewRunner(a.logger)
	interval := time.Duration(a.cfg.JobIntervalSeconds) * time.Second
	backoff := []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}

	list := []jobs.Job{
		{
			Name:     jobAccumulationGenerate,
			Interval: time.Duration(a.cfg.AccumulationIntervalSeconds) * time.Second,
			Run: func(ctx context.Context) error {
				return a.accumulations.GenerateAll(ctx, a.cfg.AccumulationPayers)
			},
		},
		{
			Name:       jobAdvocateTransitions,
			Interval:   interval,
			MaxRetries: 2,
			Backoff:    backoff,
			Run: func(ctx context.Context) error {
				n, err := a.advocates.ExecuteDueTransitions(ctx)
				a.logger.Info().Int("executed", n).Msg("care advocate transitions")
				return err
			},
		},
		{
			Name:       jobAppointmentReminders,
			Interval:   min(interval, 15*time.Minute),
			MaxRetries: 2,
			Backoff:    backoff,
			Run: func(ctx context.Context) error {
				n, err := a.appointments.SendReminders(ctx)
				a.logger.Info().Int("sent", n).Msg("appointment reminders")
				return err
			},
		},
		{
			Name:       jobNotificationRetry,
			Interval:   min(interval, 5*time.Minute),
			MaxRetries: 3,
			Backoff:    backoff,
			Run: func(ctx context.Context) error {
				n, err := a.notifier.RetryFailed(ctx)
				if n > 0 {
					a.logger.Info().Int("resent", n).Msg("notifications retried")
				}
				return err
			},
		},
	}
	for _, j := range list {
		j.Run = asSystem(j.Run)
		if err := r.Register(j); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func asSystem(fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return fn(auth.WithIdentity(ctx, systemUser, "", []string{auth.RoleAdmin}))
	}
}
