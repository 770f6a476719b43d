package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/zeusync/quadsim/internal/config"
	"github.com/zeusync/quadsim/internal/core/observability/log"
	"github.com/zeusync/quadsim/internal/core/sim"
	"github.com/zeusync/quadsim/internal/core/telemetry"
	"github.com/zeusync/quadsim/internal/injector"
	"github.com/zeusync/quadsim/internal/store"
)

const usage = `usage: quadsim <command> [flags]

commands:
  run      fly the configured mission (realtime when telemetry.listen_addr is set)
  compare  fly the PID, waypoint and controller strategies side by side
  replay   print a flight recording
  runs     list stored run summaries
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runCmd(ctx, args)
	case "compare":
		err = compareCmd(ctx, args)
	case "replay":
		err = replayCmd(args)
	case "runs":
		err = runsCmd(ctx, args)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(fs *flag.FlagSet, args []string) (config.Config, error) {
	path := fs.String("config", "", "path to a YAML config file")
	listen := fs.String("listen", "", "serve websocket telemetry on this address")
	record := fs.String("record", "", "write a flight recording to this file")
	storePath := fs.String("store", "", "SQLite file for run summaries")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if *path != "" {
		var err error
		if cfg, err = config.LoadFile(*path); err != nil {
			return config.Config{}, err
		}
	}
	if *listen != "" {
		cfg.Telemetry.ListenAddr = *listen
	}
	if *record != "" {
		cfg.Telemetry.RecordPath = *record
	}
	if *storePath != "" {
		cfg.Telemetry.StorePath = *storePath
	}
	return cfg, cfg.Validate()
}

func runCmd(ctx context.Context, args []string) error {
	cfg, err := loadConfig(flag.NewFlagSet("run", flag.ExitOnError), args)
	if err != nil {
		return err
	}

	app, cleanup, err := injector.InitializeApp(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := app.Run(ctx)
	printResults(res)
	return err
}

func compareCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	limit := fs.Int("parallel", 0, "scenarios run at once (0 = all)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	logger := log.New(cfg.LogOptions())
	defer logger.Close()

	results, err := sim.Compare(ctx, *limit, injector.Scenarios(cfg, logger)...)
	if err != nil {
		return err
	}
	printResults(results...)

	if cfg.Telemetry.StorePath == "" {
		return nil
	}
	st, err := store.Open(cfg.Telemetry.StorePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	for _, r := range results {
		if err := st.SaveRun(ctx, store.SummaryFromResult(r)); err != nil {
			return err
		}
	}
	return nil
}

func replayCmd(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	every := fs.Int("every", 100, "print one snapshot in n")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("replay needs exactly one recording file")
	}
	if *every <= 0 {
		*every = 1
	}

	header, snaps, err := telemetry.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("run %s  dt=%g  integrator=%s  snapshots=%d\n", header.RunID, header.Dt, header.Integrator, len(snaps))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tPHASE\tX\tY\tZ\tVZ\tTHRUST")
	for i, s := range snaps {
		if i%*every != 0 && i != len(snaps)-1 {
			continue
		}
		fmt.Fprintf(w, "%.2f\t%s\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\n",
			s.Time, s.Phase, s.Position.X, s.Position.Y, s.Position.Z, s.Velocity.Z, s.Control.Thrust)
	}
	return w.Flush()
}

func runsCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	path := fs.String("store", "quadsim.db", "SQLite file with run summaries")
	scenario := fs.String("scenario", "", "only list this scenario")
	limit := fs.Int("limit", 20, "maximum rows")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := store.Open(*path, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(ctx, *scenario, *limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCENARIO\tCOMPLETED\tSIM TIME\tENERGY\tMEAN ERR\tPHASE\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%t\t%.2f\t%.1f\t%.3f\t%s\t%s\n",
			r.ID, r.Scenario, r.Completed, r.SimTime, r.EnergyUsed, r.MeanPositionError, r.FinalPhase,
			r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func printResults(results ...sim.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCOMPLETED\tSIM TIME\tPHASE\tX\tY\tZ\tENERGY\tMEAN ERR\tMAX ALT\tFINGERPRINT")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%t\t%.2f\t%s\t%.3f\t%.3f\t%.3f\t%.1f\t%.3f\t%.2f\t%s\n",
			r.Name, r.Completed, r.Final.Time, r.Final.Phase,
			r.Final.Position.X, r.Final.Position.Y, r.Final.Position.Z,
			r.Metrics.EnergyUsed, r.Metrics.MeanPositionError(), r.Metrics.MaxAltitude, r.Fingerprint)
		if r.RecorderErr != nil {
			fmt.Fprintf(w, "\trecorder error: %v\n", r.RecorderErr)
		}
	}
	_ = w.Flush()
}
