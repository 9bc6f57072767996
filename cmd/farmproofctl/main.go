package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	farmproof "github.com/farmproof/farmproof"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	dbPath     string
	windowDays int
)

var rootCmd = &cobra.Command{
	Use:   "farmproofctl",
	Short: "Operate on a farmproof audit database",
	Long: `farmproofctl runs anchoring, verification, purge, and retention
operations directly against the farmproof store, and inspects audit state.`,
	SilenceUsage: true,
}

func openStore() (farmproof.Store, farmproof.Config, error) {
	_ = godotenv.Load()
	cfg := farmproof.LoadConfig()
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	store, err := farmproof.OpenSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, cfg, fmt.Errorf("open store %s: %w", cfg.DBPath, err)
	}
	return store, cfg, nil
}

var anchorCmd = &cobra.Command{
	Use:   "anchor [day]",
	Short: "Anchor a day (default: yesterday)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		dayKey := farmproof.Yesterday(time.Now())
		if len(args) == 1 {
			if _, err := time.Parse("2006-01-02", args[0]); err != nil {
				return fmt.Errorf("day must be YYYY-MM-DD: %w", err)
			}
			dayKey = args[0]
		}
		anchorer := farmproof.NewAnchorer(store, nil, cfg.WitnessURLs, cfg.Quorum, cfg.WitnessTimeout, slog.Default())
		anchor, created, err := anchorer.AnchorDay(context.Background(), dayKey)
		if err != nil {
			return err
		}
		if anchor.MerkleRoot == "" {
			fmt.Printf("%s: nothing to anchor\n", dayKey)
			return nil
		}
		state := "already anchored"
		if created {
			state = "anchored"
		}
		fmt.Printf("%s: %s root=%s signatures=%d quorumMet=%v\n",
			dayKey, state, anchor.MerkleRoot, len(anchor.Signatures), anchor.QuorumMet)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <farmerID>",
	Short: "Run the selective-purge window for one farmer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		days := cfg.VerifyWindowDays
		if windowDays > 0 {
			days = windowDays
		}
		purge := farmproof.NewPurgeEngine(store, farmproof.NewVerifier(store), slog.Default())
		report, err := purge.RunFarmerWindow(args[0], days)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

var verifyAllCmd = &cobra.Command{
	Use:   "verify-all",
	Short: "Run the selective-purge window for every farmer",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		days := cfg.VerifyWindowDays
		if windowDays > 0 {
			days = windowDays
		}
		purge := farmproof.NewPurgeEngine(store, farmproof.NewVerifier(store), slog.Default())
		reports, err := purge.RunAllFarmersWindow(days)
		for _, r := range reports {
			printReport(r)
		}
		return err
	},
}

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Run the age-based retention sweep now",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		purge := farmproof.NewPurgeEngine(store, farmproof.NewVerifier(store), slog.Default())
		deleted, err := purge.RetentionSweep(cfg.RetentionDays, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d readings older than %d days\n", deleted, cfg.RetentionDays)
		return nil
	},
}

var trustCmd = &cobra.Command{
	Use:   "trust <farmerID>",
	Short: "Print a farmer's trust score and audit history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.FarmerAudits(args[0])
		if err != nil {
			return err
		}
		summary := farmproof.Summarize(records)
		fmt.Printf("farmer %s: trust=%.3f tampered=%d\n", args[0], summary.TrustScore, summary.TamperedCount)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "DAY\tSTATUS\tDETAILS")
		for _, r := range records {
			details := ""
			if r.Details != nil {
				b, _ := json.Marshal(r.Details)
				details = string(b)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.DayKey, r.Status, details)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show anchoring status for the rolling day window",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		window := 30
		if windowDays > 0 {
			window = windowDays
		}
		now := time.Now().UTC()
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		keys := make([]string, 0, window)
		for i := window - 1; i >= 0; i-- {
			keys = append(keys, farmproof.DayKey(start.AddDate(0, 0, -i)))
		}
		anchors, err := store.AnchorsFor(keys)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "DAY\tANCHORED\tQUORUM\tTAMPERED\tSIGS")
		for _, k := range keys {
			a, ok := anchors[k]
			if !ok {
				fmt.Fprintf(w, "%s\t-\t-\t-\t-\n", k)
				continue
			}
			fmt.Fprintf(w, "%s\tyes\t%v\t%v\t%d\n", k, a.QuorumMet, a.Tampered, len(a.Signatures))
		}
		return nil
	},
}

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage the device registry",
}

var deviceAddCmd = &cobra.Command{
	Use:   "add <deviceID> <farmerID> [label]",
	Short: "Register a device",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		d := farmproof.Device{DeviceID: args[0], FarmerID: args[1]}
		if len(args) == 3 {
			d.Label = args[2]
		}
		created, err := store.RegisterDevice(d)
		if err != nil {
			return err
		}
		if !created {
			return fmt.Errorf("device %s already exists", d.DeviceID)
		}
		fmt.Printf("registered %s -> %s\n", d.DeviceID, d.FarmerID)
		return nil
	},
}

var deviceListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		devices, err := store.Devices("")
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		fmt.Fprintln(w, "DEVICE\tFARMER\tLABEL")
		for _, d := range devices {
			fmt.Fprintf(w, "%s\t%s\t%s\n", d.DeviceID, d.FarmerID, d.Label)
		}
		return nil
	},
}

var deviceRemoveCmd = &cobra.Command{
	Use:     "remove <deviceID>",
	Aliases: []string{"rm"},
	Short:   "Remove a device registration",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		removed, err := store.RemoveDevice(args[0])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("device %s not found", args[0])
		}
		fmt.Printf("removed %s\n", args[0])
		return nil
	},
}

func printReport(r farmproof.FarmerReport) {
	for _, a := range r.Actions {
		switch a.Action {
		case "purged":
			fmt.Printf("%s %s: purged %d readings\n", r.FarmerID, a.DayKey, a.Deleted)
		case "no_data":
			// quiet
		default:
			fmt.Printf("%s %s: %s\n", r.FarmerID, a.DayKey, a.Action)
		}
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the farmproof SQLite database (default: FARMPROOF_DB)")
	rootCmd.PersistentFlags().IntVar(&windowDays, "window", 0, "override the day window for verify/status commands")

	deviceCmd.AddCommand(deviceAddCmd, deviceListCmd, deviceRemoveCmd)
	rootCmd.AddCommand(anchorCmd, verifyCmd, verifyAllCmd, retentionCmd, trustCmd, statusCmd, deviceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
