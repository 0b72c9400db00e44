// Package main is the entry point for the forge build agent.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/viper"

	"github.com/aura-linux/forge/internal/arch"
	"github.com/aura-linux/forge/internal/worker"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rt, err := worker.NewRuntime(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize agent: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting forge agent",
		slog.String("coordinator", cfg.CoordinatorURL),
		slog.String("arch", cfg.Arch),
	)

	if err := rt.Run(ctx); err != nil {
		log.Fatalf("Agent error: %v", err)
	}
	logger.Info("Agent stopped")
}

func loadConfig() (worker.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FORGE_AGENT")
	v.AutomaticEnv()

	v.SetDefault("coordinator_url", "http://localhost:3000")
	v.SetDefault("ciel_dir", "/buildroots/buildit")
	v.SetDefault("ciel_instance", "main")
	v.SetDefault("push_remote", "")
	v.SetDefault("probe_url", "https://github.com")

	for _, key := range []string{
		"coordinator_url", "worker_secret", "arch", "hostname", "performance",
		"ciel_dir", "ciel_instance", "push_remote", "log_dest", "log_base_url", "probe_url",
	} {
		if err := v.BindEnv(key); err != nil {
			return worker.Config{}, err
		}
	}

	cfg := worker.Config{
		CoordinatorURL: v.GetString("coordinator_url"),
		Secret:         v.GetString("worker_secret"),
		Arch:           v.GetString("arch"),
		Hostname:       v.GetString("hostname"),
		ProbeURL:       v.GetString("probe_url"),
		Build: worker.BuildConfig{
			CielDir:    v.GetString("ciel_dir"),
			Instance:   v.GetString("ciel_instance"),
			PushRemote: v.GetString("push_remote"),
			LogDest:    v.GetString("log_dest"),
			LogBaseURL: v.GetString("log_base_url"),
		},
	}
	if v.IsSet("performance") {
		perf := v.GetInt64("performance")
		cfg.Performance = &perf
	}

	if cfg.Arch == "" {
		log.Fatal("FORGE_AGENT_ARCH must be set")
	}
	if !arch.IsSupported(cfg.Arch) {
		log.Fatalf("Unsupported arch %q", cfg.Arch)
	}
	if cfg.Secret == "" {
		log.Fatal("FORGE_AGENT_WORKER_SECRET must be set")
	}
	cfg.GitCommit = vcsRevision()
	return cfg, nil
}

// vcsRevision reports the commit the agent binary was built from.
func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return "unknown"
}
