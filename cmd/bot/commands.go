package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"dealbot/config"
	"dealbot/internal/api"
	"dealbot/internal/bot"
	"dealbot/internal/database"
	"dealbot/internal/models"
	"dealbot/internal/monitor"
	"dealbot/internal/scraper"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// deps is everything a monitoring command needs.
type deps struct {
	cfg      *config.Config
	db       *database.DB
	telegram *tgbotapi.BotAPI
	monitor  *monitor.Monitor
}

func (d *deps) Close() {
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			slog.Warn("close database", "error", err)
		}
	}
}

func setup() (*deps, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	products, err := config.LoadProducts(cfg.ProductsPath)
	if err != nil {
		return nil, err
	}

	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	d := &deps{cfg: cfg, db: db}

	var notifier monitor.Notifier
	if cfg.DryRun {
		notifier = bot.LogNotifier{Logger: slog.Default().With("component", "notifier")}
	} else {
		d.telegram, err = bot.Init(cfg.TelegramBotToken)
		if err != nil {
			d.Close()
			return nil, err
		}
		notifier = bot.NewNotifier(d.telegram, cfg.TelegramChatID, cfg.Settings.NotifyBatchSize, slog.Default())
	}

	d.monitor = monitor.New(monitor.Options{
		Store:    db,
		Registry: newRegistry(cfg),
		Notifier: notifier,
		Products: products,
		Settings: cfg.Settings,
		Lock:     monitor.NewLock(cfg.LockPath, 0),
		Logger:   slog.Default(),
	})

	slog.Info("configuration loaded",
		"products", len(products),
		"dry_run", cfg.DryRun,
		"include_shipping", cfg.Settings.IncludeShipping)
	return d, nil
}

func newRegistry(cfg *config.Config) *scraper.Registry {
	opts := scraper.HTTPOptions{
		Timeout:     cfg.HTTPTimeout,
		MaxAttempts: cfg.RetryMaxAttempts,
		Logger:      slog.Default().With("component", "scraper"),
	}
	return scraper.NewRegistry(
		scraper.NewReverbScraper(cfg.ReverbBaseURL, cfg.ReverbToken, opts),
		scraper.NewCraigslistScraper(cfg.CraigslistBaseURL, "", opts),
	)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one polling cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := setup()
			if err != nil {
				return err
			}
			defer d.Close()

			summary, err := d.monitor.RunOnce(cmd.Context())
			if err == nil || len(summary.Products) > 0 {
				printSummary(cmd.OutOrStdout(), summary)
			}
			return err
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Poll on an interval and answer chat commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := setup()
			if err != nil {
				return err
			}
			defer d.Close()

			ctx := cmd.Context()
			if d.telegram != nil {
				h := bot.NewHandler(d.telegram, d.db, d.monitor, d.cfg.TelegramChatID, slog.Default())
				go bot.SetupCommands(ctx, d.telegram, h)
			}

			d.monitor.Start(ctx, d.cfg.CheckInterval)
			return nil
		},
	}
}

func reportCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print recent runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadReadOnly(viper.GetViper())
			if err != nil {
				return err
			}
			db, err := database.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}
			printRuns(out, runs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the run history and state as read-only JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadReadOnly(viper.GetViper())
			if err != nil {
				return err
			}
			db, err := database.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer db.Close()

			return api.New(db, slog.Default()).ListenAndServe(cmd.Context(), cfg.APIListen)
		},
	}
}

func printSummary(w io.Writer, s models.RunSummary) {
	fmt.Fprintf(w, "run %s: scanned %d, matched %d, alerted %d, sold %d, swept %d in %s\n",
		s.ID, s.Scanned, s.Matched, s.Alerted, s.Sold, s.Swept, s.Duration.Round(time.Millisecond))
	for _, p := range s.Products {
		fmt.Fprintf(w, "  %-20s %3d matches", p.ProductID, len(p.Matches))
		if p.Stats.Median != nil {
			fmt.Fprintf(w, "  median $%.2f over %d", *p.Stats.Median, p.Stats.Count)
		}
		fmt.Fprintln(w)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  error %s/%s: %s\n", e.Marketplace, e.ProductID, e.Message)
	}
}

func printRuns(w io.Writer, runs []models.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSCANNED\tMATCHED\tALERTED\tSOLD\tERRORS\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Timestamp.Local().Format("2006-01-02 15:04"),
			r.Scanned, r.Matched, r.Alerted, r.Sold, len(r.Errors),
			r.Duration.Round(time.Second))
	}
	_ = tw.Flush()
}
