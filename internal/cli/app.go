package cli

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/course-proposals/internal/delivery"
	"github.com/noah-isme/course-proposals/internal/ingest"
	"github.com/noah-isme/course-proposals/internal/repository"
	"github.com/noah-isme/course-proposals/internal/service"
	"github.com/noah-isme/course-proposals/pkg/cache"
	"github.com/noah-isme/course-proposals/pkg/config"
	"github.com/noah-isme/course-proposals/pkg/database"
	"github.com/noah-isme/course-proposals/pkg/logger"
)

// app holds the wired dependencies shared by every command.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *sqlx.DB
	leases    *repository.LeaseRepository
	discord   *discordgo.Session
	metrics   *service.MetricsService
	validate  *validator.Validate
	proposals *service.ProposalService
	callbacks *service.CallbackService
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logr, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		_ = logr.Sync()
		return nil, fmt.Errorf("open %s database: %w", cfg.Database.Driver, err)
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, ingest leases stay in-process", zap.Error(err))
		redisClient = nil
	}

	a := &app{
		cfg:      cfg,
		logger:   logr,
		db:       db,
		leases:   repository.NewLeaseRepository(redisClient, logr),
		metrics:  service.NewMetricsService(),
		validate: validator.New(),
	}

	store := repository.NewProposalRepository(db)
	ingester := ingest.NewClient(cfg.Ingest, nil, logr)

	proposalOpts := []service.ProposalServiceOption{service.WithProposalMetrics(a.metrics)}
	if cfg.Discord.Enabled {
		session, err := discordgo.New("Bot " + cfg.Discord.Token)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create discord session: %w", err)
		}
		session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent | discordgo.IntentsGuilds
		a.discord = session
		proposalOpts = append(proposalOpts, service.WithPresenter(delivery.NewDiscordChannel(session), cfg.Discord.ReviewChannel))
	}

	a.proposals = service.NewProposalService(store, ingester, cfg.Proposals, cfg.Ingest, a.validate, logr, proposalOpts...)
	a.callbacks = service.NewCallbackService(store, ingester, cfg.Proposals, logr,
		service.WithCallbackLeases(a.leases),
		service.WithCallbackMetrics(a.metrics),
	)
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	if a.discord != nil {
		if err := a.discord.Close(); err != nil {
			a.logger.Warn("close discord session", zap.Error(err))
		}
	}
	if err := a.leases.Close(); err != nil {
		a.logger.Warn("close redis", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
