package farmproof

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the environment-driven configuration surface.
type Config struct {
	Addr             string        // listen address for the API server
	DBPath           string        // SQLite DSN/path
	WitnessURLs      []string      // witness sign endpoints
	Quorum           int           // minimum signatures for QuorumMet
	WitnessTimeout   time.Duration // per-witness call timeout
	RetentionDays    int           // raw-data age cutoff; <=0 disables
	VerifyWindowDays int           // selective-purge window length
}

// LoadConfig reads configuration from the environment with defaults.
// Malformed values are fatal: a misparsed retention window must not be
// silently replaced by a guess.
func LoadConfig() Config {
	getInt := func(key string, def int) int {
		val := os.Getenv(key)
		if val == "" {
			return def
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s=%q", key, val)
		}
		return n
	}
	getDuration := func(key string, def time.Duration) time.Duration {
		val := os.Getenv(key)
		if val == "" {
			return def
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Fatalf("invalid %s=%q", key, val)
		}
		return d
	}

	cfg := Config{
		Addr:             os.Getenv("FARMPROOF_ADDR"),
		DBPath:           os.Getenv("FARMPROOF_DB"),
		WitnessURLs:      splitURLs(os.Getenv("WITNESS_URLS")),
		Quorum:           getInt("ANCHOR_QUORUM", 2),
		WitnessTimeout:   getDuration("WITNESS_TIMEOUT", 10*time.Second),
		RetentionDays:    getInt("RAW_RETENTION_DAYS", 90),
		VerifyWindowDays: getInt("VERIFY_WINDOW_DAYS", 20),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":5000"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./farmproof.db"
	}
	if cfg.Quorum < 1 {
		cfg.Quorum = 1
	}
	if cfg.VerifyWindowDays < 1 {
		cfg.VerifyWindowDays = 1
	}
	return cfg
}

func splitURLs(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
