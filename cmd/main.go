package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"wheelslip/internal/api"
	"wheelslip/internal/config"
	"wheelslip/internal/db"
	"wheelslip/internal/models"
	"wheelslip/internal/output"
	"wheelslip/internal/parser"
	"wheelslip/internal/pipeline"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultEnvFile = ".env"

var (
	dbPath    string
	cfgPath   string
	verbose   bool
	logFormat string
	envFile   string

	database *db.Database
	logger   *slog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wheelslip",
		Short: "Wheel-speed telemetry cleaner and slip detector",
		Long: `A CLI tool for cleaning rear wheel-speed telemetry and detecting
wheel slip and differential-load events. Results are written as CSV and
JSON, optionally stored in SQLite and served over a REST API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLogger(verbose, logFormat)
			if err != nil {
				return err
			}
			logger = l
			slog.SetDefault(l)

			// Variables already set in the environment win over the file.
			if err := godotenv.Load(envFile); err != nil {
				if envFile != defaultEnvFile || !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("loading %s: %w", envFile, err)
				}
				logger.Debug("no env file, using process environment", slog.String("path", envFile))
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "wheelslip.db", "Path to SQLite database")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log per-row diagnostics")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile, "Dotenv file with WHEELSLIP_ overrides")

	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(generateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger on stderr
func newLogger(verbose bool, format string) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (use text or json)", format)
	}
}

// initDB initializes database connection
func initDB() error {
	var err error
	database, err = db.New(dbPath)
	return err
}

// configFlags holds command-line overrides for the pipeline configuration.
// Only flags the user actually set are applied.
type configFlags struct {
	cfg config.Config
}

func addConfigFlags(cmd *cobra.Command) *configFlags {
	f := &configFlags{cfg: config.Default()}
	pf := cmd.Flags()
	pf.Float64Var(&f.cfg.ZThreshold, "z-threshold", f.cfg.ZThreshold, "Z-score outlier threshold (0 disables filtering)")
	pf.IntVar(&f.cfg.WindowSize, "window-size", f.cfg.WindowSize, "Rolling window size for the noise filter")
	pf.Float64Var(&f.cfg.DiffThreshold, "diff-threshold", f.cfg.DiffThreshold, "Differential-load threshold (rpm)")
	pf.Float64Var(&f.cfg.SlipThreshold, "slip-threshold", f.cfg.SlipThreshold, "Slip threshold between adjacent grid points (rpm)")
	pf.Float64Var(&f.cfg.TimeBinSize, "time-bin-size", f.cfg.TimeBinSize, "Resampling grid interval (s)")
	pf.Float64Var(&f.cfg.MaxTimeDifference, "max-time-difference", f.cfg.MaxTimeDifference, "Matching tolerance for grid points (s)")
	pf.Float64Var(&f.cfg.MinRPM, "min-rpm", f.cfg.MinRPM, "Minimum plausible wheel speed (rpm)")
	pf.Float64Var(&f.cfg.MaxRPM, "max-rpm", f.cfg.MaxRPM, "Maximum plausible wheel speed (rpm)")
	return f
}

// resolve loads defaults, the config file and the environment, then
// applies any flags that were set on cmd.
func (f *configFlags) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, err
	}

	pf := cmd.Flags()
	set := func(name string, dst *float64, v float64) {
		if pf.Changed(name) {
			*dst = v
		}
	}
	set("z-threshold", &cfg.ZThreshold, f.cfg.ZThreshold)
	set("diff-threshold", &cfg.DiffThreshold, f.cfg.DiffThreshold)
	set("slip-threshold", &cfg.SlipThreshold, f.cfg.SlipThreshold)
	set("time-bin-size", &cfg.TimeBinSize, f.cfg.TimeBinSize)
	set("max-time-difference", &cfg.MaxTimeDifference, f.cfg.MaxTimeDifference)
	set("min-rpm", &cfg.MinRPM, f.cfg.MinRPM)
	set("max-rpm", &cfg.MaxRPM, f.cfg.MaxRPM)
	if pf.Changed("window-size") {
		cfg.WindowSize = f.cfg.WindowSize
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// analyzeCmd runs the pipeline on a telemetry file
func analyzeCmd() *cobra.Command {
	var outDir string
	var noPlot bool
	var store bool

	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Clean a telemetry CSV and detect slip and differential-load events",
		Args:  cobra.ExactArgs(1),
	}
	flags := addConfigFlags(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := flags.resolve(cmd)
		if err != nil {
			return err
		}

		start := time.Now()
		raw, err := parser.ParseFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		res := pipeline.Run(raw, cfg, logger.With(slog.String("source", args[0])))

		files, err := output.WriteAll(outDir, res, !noPlot)
		if err != nil {
			return fmt.Errorf("writing results: %w", err)
		}

		d := res.Diagnostics
		fmt.Printf("Processed %s in %v\n", args[0], time.Since(start))
		fmt.Printf("  Rows:             %d read, %d accepted, %d rejected\n", d.InputRows, d.AcceptedRows, d.TotalRejected())
		fmt.Printf("  Noise filtered:   left %d, right %d\n", d.NoiseFiltered[models.WheelLeft], d.NoiseFiltered[models.WheelRight])
		fmt.Printf("  Grid:             %d points, %d gaps\n", d.GridPoints, d.Gaps)
		fmt.Printf("  Slip events:      %d\n", d.SlipEvents)
		fmt.Printf("  Diff-load events: %d\n", d.DiffLoadEvents)
		fmt.Printf("  Output:           %s\n", outDir)
		if files.Plot != "" {
			fmt.Printf("  Plot:             %s\n", files.Plot)
			fmt.Printf("  Chart:            %s\n", files.Chart)
		}

		if !store {
			return nil
		}

		if err := initDB(); err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		defer database.Close()

		run, err := database.SaveRun(filepath.Base(args[0]), cfg.YAML(), res)
		if err != nil {
			return fmt.Errorf("storing run: %w", err)
		}
		fmt.Printf("  Stored run:       %s\n", run.ID)
		return nil
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "out", "Output directory")
	cmd.Flags().BoolVar(&noPlot, "no-plot", false, "Skip rendering the annotated plot")
	cmd.Flags().BoolVar(&store, "store", false, "Also store the run in the optional SQLite database; the output files are written either way")
	return cmd
}

// serverCmd starts the REST API server
func serverCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the REST API server",
	}
	flags := addConfigFlags(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := flags.resolve(cmd)
		if err != nil {
			return err
		}
		if err := initDB(); err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		defer database.Close()

		server := api.NewServer(database, cfg, logger)
		addr := fmt.Sprintf(":%d", port)

		logger.Info("api server listening",
			slog.String("addr", addr),
			slog.String("db", dbPath))

		srv := &http.Server{
			Addr:              addr,
			Handler:           server.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		return srv.ListenAndServe()
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Server port")
	return cmd
}

// runsCmd manages stored runs
func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Stored run commands",
	}

	var source string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			runs, err := database.ListRuns(models.RunQuery{Source: source, Limit: limit})
			if err != nil {
				return fmt.Errorf("error listing runs: %w", err)
			}

			if len(runs) == 0 {
				fmt.Println("No runs found. Use 'wheelslip analyze --store' to add one.")
				return nil
			}

			fmt.Printf("%-36s  %-20s  %-19s  %6s  %6s  %6s\n", "ID", "Source", "Created", "Grid", "Slips", "Diffs")
			fmt.Println(strings.Repeat("-", 102))
			for _, r := range runs {
				fmt.Printf("%-36s  %-20s  %-19s  %6d  %6d  %6d\n",
					r.ID, r.Source, r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
					r.Diagnostics.GridPoints, r.Diagnostics.SlipEvents, r.Diagnostics.DiffLoadEvents)
			}
			return nil
		},
	}
	listCmd.Flags().StringVarP(&source, "source", "s", "", "Filter by source file name")
	listCmd.Flags().IntVarP(&limit, "limit", "l", 50, "Maximum runs to list")

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "Show a stored run with its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			run, err := database.GetRun(args[0])
			if err != nil {
				return err
			}
			slips, err := database.GetSlipEvents(run.ID, "")
			if err != nil {
				return err
			}
			diffs, err := database.GetDiffLoadEvents(run.ID, 0)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				*models.Run
				Slips     []models.SlipEvent     `json:"slip_events"`
				DiffLoads []models.DiffLoadEvent `json:"diff_load_events"`
			}{run, slips, diffs})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete [run_id...]",
		Short: "Delete stored runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			for _, id := range args {
				if err := database.DeleteRun(id); err != nil {
					return fmt.Errorf("deleting %s: %w", id, err)
				}
				fmt.Printf("Deleted %s\n", id)
			}
			return nil
		},
	}

	cmd.AddCommand(listCmd, showCmd, deleteCmd)
	return cmd
}

// statsCmd shows database statistics
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			stats, err := database.GetStats()
			if err != nil {
				return fmt.Errorf("error getting stats: %w", err)
			}

			fmt.Println("Wheelslip Statistics")
			fmt.Println("====================")
			fmt.Printf("  Runs:              %v\n", stats["total_runs"])
			fmt.Printf("  Grid Points:       %v\n", stats["total_grid_points"])
			fmt.Printf("  Slip Events:       %v\n", stats["total_slip_events"])
			fmt.Printf("  Diff-Load Events:  %v\n", stats["total_diff_load_events"])
			fmt.Printf("  Rejected Rows:     %v\n", stats["total_rejected_rows"])
			fmt.Printf("  Database:          %s\n", dbPath)
			return nil
		},
	}
}
