// Command server runs the multi-provider AI gateway: it loads the
// configuration and provider pools, wires the risk and pool managers,
// and serves the dialect endpoints until interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/justlovemaki/AIClient-2-API/internal/api"
	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/justlovemaki/AIClient-2-API/internal/lifecycle"
	"github.com/justlovemaki/AIClient-2-API/internal/logging"
	"github.com/justlovemaki/AIClient-2-API/internal/pool"
	"github.com/justlovemaki/AIClient-2-API/internal/risk"
	"github.com/justlovemaki/AIClient-2-API/internal/telemetry"
	_ "github.com/justlovemaki/AIClient-2-API/internal/translator"
	"github.com/justlovemaki/AIClient-2-API/internal/usage"
	"github.com/justlovemaki/AIClient-2-API/internal/watcher"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	logging.SetupBaseLogger()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	if err = logging.ConfigureLogOutput(cfg.LogMode, cfg.PromptLogDir); err != nil {
		log.Errorf("failed to configure logging: %v", err)
		os.Exit(1)
	}

	store := lifecycle.NewStore(cfg.LifecycleFile, cfg.Risk.MaxEvents)
	store.Load()

	riskMgr := risk.NewManager(store, risk.Mode(cfg.Risk.Mode), time.Duration(cfg.Risk.IdentityWindowMs)*time.Millisecond)

	poolMgr := pool.NewManager(cfg.PoolsFile, riskMgr)
	if err = poolMgr.Load(); err != nil {
		log.Errorf("failed to load pools: %v", err)
		os.Exit(1)
	}
	store.InitializeFromPools(poolMgr.Seeds())

	if cfg.DefaultProvider != "" && len(poolMgr.Entries(cfg.DefaultProvider)) == 0 {
		log.Errorf("no credentials configured for default provider %s", cfg.DefaultProvider)
		os.Exit(1)
	}

	poolMgr.SetHealthChecker(api.HealthChecker(cfg))
	riskMgr.SetReleaseHook(func(providerType, id string, target lifecycle.State) {
		if target == lifecycle.StateHealthy {
			_ = poolMgr.MarkHealthy(providerType, id, true)
		} else {
			_ = poolMgr.MarkNeedRefresh(providerType, id)
		}
	})

	tracker, err := usage.Open(cfg.UsageFile)
	if err != nil {
		log.Warnf("usage tracking disabled: %v", err)
		tracker = nil
	}
	defer func() { _ = tracker.Close() }()

	promptLog := logging.NewPromptLogger(cfg.LogMode, cfg.PromptLogDir, cfg.PromptLogBaseName)
	reporter := telemetry.NewReporter(cfg.TelemetryURL)

	dispatcher := api.NewDispatcher(cfg, poolMgr, riskMgr, promptLog, tracker, reporter)
	mgmt := api.NewManagement(poolMgr, riskMgr, tracker)
	server := api.NewServer(cfg, dispatcher, mgmt)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poolsWatcher, err := watcher.NewWatcher(cfg.PoolsFile, poolMgr, store)
	if err != nil {
		log.Warnf("pools hot reload disabled: %v", err)
	} else if err = poolsWatcher.Start(ctx); err != nil {
		log.Warnf("pools hot reload disabled: %v", err)
	} else {
		defer func() { _ = poolsWatcher.Stop() }()
	}

	if err = server.Start(ctx); err != nil {
		log.Errorf("server error: %v", err)
		store.FlushNow()
		os.Exit(1)
	}
	store.FlushNow()
}
