package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/iceymoss/go-taskflow/internal/conf"
	"github.com/iceymoss/go-taskflow/internal/engine"
	"github.com/iceymoss/go-taskflow/internal/tasks"
	// import anonymously to register tasks to the list
	_ "github.com/iceymoss/go-taskflow/internal/tasks/network"
	_ "github.com/iceymoss/go-taskflow/internal/tasks/system"
	"github.com/iceymoss/go-taskflow/pkg/logger"
	"github.com/iceymoss/go-taskflow/pkg/utils"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Warn("⚠️ .env not loaded", zap.Error(err))
	}

	cfg, err := conf.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("❌ LoadConfig error", zap.Error(err))
	}

	if err := utils.SetLocation(cfg.Timezone); err != nil {
		logger.Warn("⚠️ unknown timezone, keep default", zap.String("timezone", cfg.Timezone), zap.Error(err))
	}

	registry := engine.NewRegistry()
	sched := engine.NewScheduler(cfg.Engine, registry, logger.Named("scheduler"))

	auto := tasks.ApplyAutoJobs(sched)
	fromConfig := tasks.ApplyConfigJobs(sched, cfg.Jobs)
	logger.Info("🗂 jobs loaded", zap.Int("auto", auto), zap.Int("config", fromConfig),
		zap.Strings("handlers", tasks.Names()))

	sched.Start()
	logger.Info("⏰ scheduler started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("🛑 stopping scheduler")
	<-sched.Stop().Done()
	for _, t := range registry.List() {
		logger.Info("task still registered", zap.String("task", t.ID()), zap.String("status", string(t.Status())))
	}
}
