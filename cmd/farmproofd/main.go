package main

import (
	"log/slog"
	"os"

	farmproof "github.com/farmproof/farmproof"
	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg := farmproof.LoadConfig()

	store, err := farmproof.OpenSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Error("store init failed", "db", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	anchorer := farmproof.NewAnchorer(store, nil, cfg.WitnessURLs, cfg.Quorum, cfg.WitnessTimeout, logger)
	verifier := farmproof.NewVerifier(store)
	purge := farmproof.NewPurgeEngine(store, verifier, logger)

	jobs := farmproof.NewJobs(anchorer, purge, cfg, logger)
	sched, err := jobs.Start()
	if err != nil {
		logger.Error("scheduler init failed", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	srv := farmproof.NewServer(store, anchorer, verifier, purge, cfg, logger)
	logger.Info("farmproofd listening",
		"addr", cfg.Addr,
		"witnesses", len(cfg.WitnessURLs),
		"quorum", cfg.Quorum)
	if err := srv.Router().Run(cfg.Addr); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
