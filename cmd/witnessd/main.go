package main

import (
	"log/slog"
	"os"

	farmproof "github.com/farmproof/farmproof"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	addr := os.Getenv("WITNESS_ADDR")
	if addr == "" {
		addr = ":5100"
	}

	var w *farmproof.Witness
	var err error
	if seed := os.Getenv("WITNESS_SEED"); seed != "" {
		w, err = farmproof.NewWitnessFromSeed(seed)
	} else {
		logger.Warn("WITNESS_SEED not set; generating an ephemeral key")
		w, err = farmproof.NewWitness()
	}
	if err != nil {
		logger.Error("witness key init failed", "error", err)
		os.Exit(1)
	}

	logger.Info("witnessd listening", "addr", addr, "publicKey", w.PublicKeyHex())
	if err := w.Router().Run(addr); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
