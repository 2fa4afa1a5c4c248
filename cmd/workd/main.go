package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"workchain/config"
	"workchain/core/events"
	"workchain/core/state"
	"workchain/gateway"
	"workchain/native/arbitration"
	"workchain/native/escrow"
	"workchain/native/fees"
	"workchain/native/project"
	"workchain/native/reputation"
	"workchain/observability/logging"
	"workchain/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("WORKCHAIN_ENV"))
	logger := logging.Setup("workd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)
	recorder := events.NewRecorder(cfg.EventBufferSize)

	custody := escrow.NewEngine()
	custody.SetState(manager)
	custody.SetEmitter(recorder)

	reputationEngine := reputation.NewEngine(manager)
	reputationEngine.SetEmitter(recorder)

	projects := project.NewEngine()
	projects.SetState(manager)
	projects.SetCustody(custody)
	projects.SetReputation(reputationEngine)
	projects.SetPauses(manager)
	projects.SetEmitter(recorder)

	arbiter := arbitration.NewEngine()
	arbiter.SetState(manager)
	arbiter.SetCustody(custody)
	arbiter.SetPauses(manager)
	arbiter.SetEmitter(recorder)
	arbiter.SetVotingPeriod(cfg.VotingPeriodSeconds)

	if strings.TrimSpace(cfg.GovernanceAuthority) != "" {
		authority, err := cfg.AuthorityAddress()
		if err != nil {
			logger.Error("Failed to decode governance authority", slog.Any("error", err))
			os.Exit(1)
		}
		if _, bound, err := manager.GovernanceAuthorityGet(); err == nil && !bound {
			if err := manager.GovernanceAuthoritySet(authority); err != nil {
				logger.Error("Failed to bind governance authority", slog.Any("error", err))
				os.Exit(1)
			}
		}
		projects.SetArbitrator(authority)
		arbiter.SetAdmin(authority)
		arbiter.SetAuthority(authority)
	}

	if cfg.FeeBps > 0 {
		treasury, err := cfg.TreasuryAddress()
		if err != nil {
			logger.Error("Failed to decode fee treasury", slog.Any("error", err))
			os.Exit(1)
		}
		custody.SetFeeTreasury(treasury)
		projects.SetFeePolicy(fees.Policy{FeeBps: cfg.FeeBps, Treasury: treasury})
	}

	if minStake, err := cfg.MinStake(); err != nil {
		logger.Error("Failed to parse minimum juror stake", slog.Any("error", err))
		os.Exit(1)
	} else if minStake != nil {
		arbiter.SetMinJurorStake(minStake)
	}

	obs := gateway.NewObservability(gateway.ObservabilityConfig{
		ServiceName: "workd",
		LogRequests: true,
	}, logger)
	server := gateway.NewServer(gateway.Config{
		Projects:      projects,
		Custody:       custody,
		Arbitration:   arbiter,
		Reputation:    reputationEngine,
		Accounts:      manager,
		Recorder:      recorder,
		Observability: obs,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("gateway listening",
			slog.String("address", cfg.ListenAddress),
			slog.String("network", cfg.NetworkName),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway terminated", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown", slog.Any("error", err))
	}
	logger.Info("shutdown complete")
}
