package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"execution-core/internal/api"
	"execution-core/internal/broker"
	"execution-core/internal/clientid"
	"execution-core/internal/events"
	"execution-core/internal/gateway"
	"execution-core/internal/historic"
	"execution-core/internal/monitor"
	"execution-core/internal/persistence"
	"execution-core/internal/reconciliation"
	"execution-core/internal/stackhandler"
	"execution-core/pkg/config"
	"execution-core/pkg/db"
	"execution-core/pkg/instruments"
	"execution-core/pkg/logger"
	"execution-core/pkg/venue"
	"execution-core/pkg/venue/paper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	var log *zap.Logger
	if cfg.LogFile != "" {
		log, err = logger.NewWithFile(cfg.LogLevel, cfg.LogFile)
	} else {
		log, err = logger.New(cfg.LogLevel)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v0.1-dev"
	}
	log.Info("starting execution core",
		zap.String("version", buildVersion),
		zap.String("port", cfg.Port),
		zap.String("db_path", cfg.DBPath),
		zap.String("venue_mode", cfg.VenueMode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal("database init failed", zap.Error(err))
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal("database migrations failed", zap.Error(err))
	}

	instrumentCfg, err := instruments.Load(cfg.InstrumentsPath)
	if err != nil {
		log.Fatal("instrument config load failed", zap.String("path", cfg.InstrumentsPath), zap.Error(err))
	}
	log.Info("instruments loaded", zap.Int("count", len(instrumentCfg.All())))

	// Venue selection
	var factory gateway.Factory
	switch cfg.VenueMode {
	case config.VenueModeREST:
		factory = gateway.RESTFactory(cfg.VenueURL, log)
	case config.VenueModePaper:
		pv := paper.New(paper.DefaultConfig(), log)
		listPaperContracts(pv, instrumentCfg, cfg.PaperMark)
		factory = gateway.PaperFactory(pv)
	default:
		log.Fatal("unknown venue mode", zap.String("venue_mode", cfg.VenueMode))
	}

	bus := events.NewBus()
	history := historic.NewStore(database)

	clientIDs := clientid.NewRegistry(database, cfg.ClientIDOffset, log)
	sessionCfg := gateway.DefaultConfig()
	sessionCfg.MaxSize = cfg.MaxSessions
	sessionCfg.RequestedClientID = cfg.ClientIDRequested
	sessions := gateway.NewManager(clientIDs, factory, sessionCfg, log)
	sessions.Start(ctx)

	account := cfg.VenueAccounts[0]
	brokerGW := broker.NewGateway(
		sessions,
		broker.NewContractResolver(instrumentCfg, time.Hour, log),
		venue.NewPacer("historical-data", cfg.PacingCalls, cfg.PacingWindow, log),
		broker.Options{Account: account, Timeout: cfg.VenueTimeout},
		log,
	)

	orders := stackhandler.New(
		database,
		stackhandler.NewStacks(database, history, log),
		brokerGW,
		&stackhandler.RollSelector{Instruments: instrumentCfg, Positions: brokerGW, Account: account},
		bus,
		log,
	)
	roller := stackhandler.NewRoller(orders, instrumentCfg, brokerGW, account)

	reconciler := reconciliation.NewService(orders, cfg.FillPollInterval, log)
	reconciler.Start(ctx)

	journal := persistence.NewJournal(database, 50, 500*time.Millisecond, log)
	journal.Follow(ctx, bus)

	mon := &monitor.Monitor{Bus: bus, Sink: monitor.LogSink{Log: log}, Log: log}
	mon.Start(ctx)

	server := api.NewServer(api.Deps{
		Bus:         bus,
		Orders:      orders,
		Roller:      roller,
		Broker:      brokerGW,
		Sessions:    sessions,
		ClientIDs:   clientIDs,
		Instruments: instrumentCfg,
		History:     history,
		Reconciler:  reconciler,
		Journal:     journal,
		Metrics:     monitor.Default,
	}, api.SystemMeta{
		VenueMode: cfg.VenueMode,
		Accounts:  cfg.VenueAccounts,
		Version:   buildVersion,
	}, cfg.JWTSecret, log)

	if cfg.PrintOperatorToken {
		token, expires, err := api.IssueToken("operator", cfg.JWTSecret, 24*time.Hour)
		if err != nil {
			log.Error("operator token issue failed", zap.Error(err))
		} else {
			log.Info("operator token issued", zap.String("token", token), zap.Time("expires_at", expires))
		}
	}

	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatal("api server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down")

	cancel()
	if err := journal.Close(); err != nil {
		log.Warn("journal close failed", zap.Error(err))
	}
	sessions.Stop()
	releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer releaseCancel()
	if n, err := clientIDs.ReleaseAll(releaseCtx); err != nil {
		log.Warn("client id release failed", zap.Error(err))
	} else {
		log.Info("client ids released", zap.Int64("count", n))
	}
}

// listPaperContracts makes the priced and forward contract of every
// instrument tradeable on the paper venue.
func listPaperContracts(pv *paper.Venue, cfg *instruments.Config, mark float64) {
	for _, in := range cfg.All() {
		for _, date := range []string{in.PriceContract, in.ForwardContract} {
			if len(date) < 6 {
				continue
			}
			month := date[:6]
			pv.ListContract(venue.Contract{
				ID:            in.Symbol + "-" + month,
				Symbol:        in.Symbol,
				Exchange:      in.Exchange,
				Currency:      in.Currency,
				Multiplier:    in.Multiplier,
				TradingClass:  in.TradingClass,
				LastTradeDate: month + "15",
			}, mark)
		}
	}
}
