package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/park285/quiz-duel/internal/bot"
	"github.com/park285/quiz-duel/internal/challenge"
	appcfg "github.com/park285/quiz-duel/internal/config"
	"github.com/park285/quiz-duel/internal/feed"
	"github.com/park285/quiz-duel/internal/feedws"
	"github.com/park285/quiz-duel/internal/httpapi"
	"github.com/park285/quiz-duel/internal/msgcat"
	"github.com/park285/quiz-duel/internal/notify"
	"github.com/park285/quiz-duel/internal/obslog"
	"github.com/park285/quiz-duel/internal/player"
	"github.com/park285/quiz-duel/internal/presence"
	"github.com/park285/quiz-duel/internal/quickmatch"
	"github.com/park285/quiz-duel/internal/reaper"
	"github.com/park285/quiz-duel/internal/rediskit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := appcfg.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := obslog.InitFromEnv("duel-server"); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()
	clock := clockwork.NewRealClock()

	// --- Redis ---
	rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
	rdb, err := rediskit.Open(rctx, cfg.RedisURL)
	rcancel()
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()
	logger.Info("redis_connected")

	// --- Postgres (optional) ---
	var (
		players player.Store = player.NewMemoryStore()
		archive *challenge.Repository
	)
	checks := map[string]func(ctx context.Context) error{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}
	if cfg.DatabaseURL != "" {
		archive, err = challenge.NewRepository(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer archive.Close()
		if err := archive.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("challenge archive schema: %w", err)
		}
		if err := player.EnsureSchema(ctx, archive.DB()); err != nil {
			return err
		}
		players = player.NewRepository(archive.DB())
		checks["postgres"] = func(ctx context.Context) error { return archive.DB().PingContext(ctx) }
		logger.Info("postgres_connected")
	} else {
		logger.Warn("database_url_empty", zap.String("players", "memory"), zap.Bool("archive", false))
	}

	catalog, err := msgcat.New(cfg.MsgTemplateDir)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	quizBot := bot.New(cfg.BotName)
	pres := presence.NewRedisStore(rdb, presence.WithClock(clock), presence.WithAlwaysOnline(bot.IsBot))
	playerSvc := player.NewService(players, clock, logger.Named("player"))

	mgr := challenge.NewManager(challenge.NewRedisStore(rdb),
		challenge.WithClock(clock),
		challenge.WithStartRetries(cfg.StartRetries, 0),
		challenge.WithLogger(logger.Named("challenge")),
	)
	if archive != nil {
		mgr.AttachArchive(archive)
	}

	var notifier quickmatch.Notifier
	if cfg.NotifyBaseURL != "" {
		notifier = notify.NewClient(cfg.NotifyBaseURL, notify.WithTimeout(8*time.Second))
	}

	hub := feed.NewHub()
	qm := quickmatch.New(hub, mgr, quizBot, quickmatch.Settings{
		Countdown:     cfg.QuickMatchCountdown,
		Subject:       cfg.QuickMatchSubject,
		QuestionCount: cfg.QuickMatchQuestions,
		TimeLimit:     cfg.QuickMatchTimeLimit,
	},
		quickmatch.WithClock(clock),
		quickmatch.WithLogger(logger.Named("quickmatch")),
		quickmatch.WithNotices(notifier, catalog),
	)

	rp := reaper.New(mgr, cfg.ReaperInterval, cfg.ReaperMaxAge,
		reaper.WithClock(clock),
		reaper.WithLogger(logger.Named("reaper")),
		reaper.WithPruner(pres),
	)

	srv := httpapi.New(cfg.HTTPAddr, httpapi.Deps{
		Presence:   pres,
		Online:     pres,
		Feed:       hub,
		Players:    playerSvc,
		Challenges: mgr,
		QuickMatch: qm,
		Catalog:    catalog,
		Notifier:   notifier,
		Checks:     checks,
	}, logger.Named("http"))

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	if cfg.FeedWSURL != "" {
		ws := feedws.NewWebSocket(cfg.FeedWSURL, 10, time.Second)
		detach := feedws.Bridge(ws, hub, clock, logger.Named("feedws"))
		g.Go(func() error {
			defer detach()
			if err := ws.Connect(gctx); err != nil {
				// reconnect loop keeps trying; hub stays unavailable meanwhile
				logger.Warn("feed_ws_connect_error", zap.Error(err))
			}
			<-gctx.Done()
			cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer ccancel()
			return ws.Close(cctx)
		})
	} else {
		src := feed.NewPresenceSource(hub, pres, playerSvc, cfg.FeedPollInterval, clock, logger.Named("feed"))
		g.Go(func() error { return src.Run(gctx) })
	}

	g.Go(func() error {
		if err := rp.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return rp.Stop()
	})

	g.Go(func() error {
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("http_shutdown")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}
