package main

import (
	"context"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"triarbiter/internal/catalog"
	"triarbiter/internal/config"
	"triarbiter/internal/coordinator"
	"triarbiter/internal/evaluator"
	"triarbiter/internal/executor"
	"triarbiter/internal/marketfeed"
	"triarbiter/internal/models"
	"triarbiter/internal/quotestore"
	"triarbiter/internal/reconcile"
	"triarbiter/internal/userfeed"
	"triarbiter/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.Fatal("load config", utils.Err(err))
	}

	log := utils.InitGlobalLogger(utils.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	log.Info("starting triarbiter", utils.Bool("research_mode", cfg.Trading.ResearchMode))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootstrapClient := catalog.New(catalog.Config{
		BaseURL:   cfg.Exchange.BootstrapBaseURL,
		RateLimit: cfg.Exchange.BootstrapRateLimit,
		RateBurst: cfg.Exchange.BootstrapRateBurst,
	})

	instruments, err := bootstrapClient.GetInstruments(ctx)
	if err != nil {
		log.Fatal("bootstrap get-instruments", utils.Err(err))
	}
	volumes, err := bootstrapClient.GetTickers(ctx)
	if err != nil {
		log.Fatal("bootstrap get-tickers", utils.Err(err))
	}
	instruments = catalog.FilterByVolume(instruments, volumes, cfg.Trading.DayVolumeThresholdUSD)

	cycles, touchedInstruments := catalog.BuildCycles(instruments, cfg.Trading.StartingCurrencies, cfg.Trading.ChainsApproxFraction)
	log.Info("built arbitrage cycles", utils.Int("cycles", len(cycles)), utils.Int("instruments", len(touchedInstruments)))

	store := quotestore.New()
	slots := models.NewExecutionSlots()

	market := marketfeed.New(marketfeed.Config{
		URL:                cfg.Exchange.MarketWSURL,
		DispatchCapacity:   cfg.Channels.MarketBroadcastDispatchCapacity,
		SubscribeBatchSize: cfg.Channels.MarketSubscribeBatchSize,
	}, store)
	if err := market.Connect(ctx, touchedInstruments); err != nil {
		log.Fatal("connect market feed", utils.Err(err))
	}
	defer market.Close()

	user := userfeed.New(userfeed.Config{
		URL:              cfg.Exchange.UserWSURL,
		APIKey:           cfg.Exchange.APIKey,
		SecretKey:        cfg.Exchange.SecretKey,
		RequestCapacity:  cfg.Channels.UserMPSCRequestCapacity,
		ResponseCapacity: cfg.Channels.UserBroadcastResponseCapacity,
	})
	if !cfg.Trading.ResearchMode {
		if err := user.Connect(ctx); err != nil {
			log.Fatal("connect user feed", utils.Err(err))
		}
		defer user.Close()
	}

	sink := buildReconcileSink(cfg, log)
	defer sink.Close()

	eval := evaluator.New(store, slots, cfg.Trading.GainThreshold, cfg.Trading.TradingFee, cfg.Trading.ResearchMode)
	exec := executor.New(user, store, sink, cfg.Timeouts.OrderTimeout, cfg.Timeouts.PendingTimeout)
	coord := coordinator.New(market, eval, exec, cfg.Trading.StartingBalances, cycles)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		coord.Run(ctx)
	}()

	metricsServer := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: promhttp.Handler()}
	go func() {
		log.Info("metrics listening", utils.String("addr", cfg.Metrics.ListenAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", utils.Err(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown", utils.Err(err))
	}

	wg.Wait()
	log.Info("triarbiter stopped")
}

// reconcileSink wraps Repository/Publisher and closes whichever are non-nil.
type reconcileSink struct {
	*reconcile.Sink
	repo      *reconcile.Repository
	publisher *reconcile.Publisher
}

func (s *reconcileSink) Close() {
	if s.publisher != nil {
		s.publisher.Close()
	}
	if s.repo != nil {
		s.repo.Close()
	}
}

// buildReconcileSink opens the reconciliation database/queue if configured.
// Neither is required in RESEARCH_MODE (spec §4.8/SPEC_FULL.md §4.8).
func buildReconcileSink(cfg *config.Config, log *utils.Logger) *reconcileSink {
	var repo *reconcile.Repository
	var publisher *reconcile.Publisher

	if cfg.Reconcile.DatabaseURL != "" {
		r, err := reconcile.NewRepository(cfg.Reconcile.DatabaseURL)
		if err != nil {
			log.Error("open reconcile database", utils.Err(err))
		} else {
			repo = r
		}
	}
	if cfg.Reconcile.AMQPURL != "" {
		p, err := reconcile.NewPublisher(cfg.Reconcile.AMQPURL)
		if err != nil {
			log.Error("open reconcile amqp publisher", utils.Err(err))
		} else {
			publisher = p
		}
	}

	return &reconcileSink{Sink: reconcile.NewSink(repo, publisher), repo: repo, publisher: publisher}
}
