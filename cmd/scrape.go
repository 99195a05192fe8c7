package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/tobyv/manualgrab/internal/catalog"
	"github.com/tobyv/manualgrab/internal/config"
	"github.com/tobyv/manualgrab/internal/extract"
	"github.com/tobyv/manualgrab/internal/progress"
	"github.com/tobyv/manualgrab/internal/ratelimit"
	"github.com/tobyv/manualgrab/internal/scraper"
	"github.com/tobyv/manualgrab/internal/sink"
	"github.com/tobyv/manualgrab/internal/ui"
	"github.com/tobyv/manualgrab/internal/util"
	"github.com/tobyv/manualgrab/internal/viewer"

	"github.com/spf13/cobra"
)

var (
	// selection
	flagCategory string
	flagBrand    string
	flagURL      string
	flagURLCache string
	flagLimit    int

	// runtime
	flagOutput           string
	flagDryRun           bool
	flagRequestFloorMS   int
	flagRelaxedFloorMS   int
	flagBackoffThreshold int
	flagBackoffCooldownS int
	flagMaxAttempts      int
	flagOCRCommand       string

	// headers/auth
	flagCookie     string
	flagCookieFile string
	flagUserAgent  string
	flagBypassCF   bool
)

func init() {
	scrapeCmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape discovered manuals into per-brand text files. Uses the defaults from the selected config, overwritten by CLI flags",
		RunE:  runScrape,
	}

	// selection
	scrapeCmd.Flags().StringVar(&flagCategory, "category", "", "category to scrape (as discovered, e.g. laptops)")
	scrapeCmd.Flags().StringVar(&flagBrand, "brand", "", "limit to a single brand (case-insensitive)")
	scrapeCmd.Flags().StringVar(&flagURL, "url", "", "scrape a single manual viewer URL instead of the cache")
	scrapeCmd.Flags().StringVar(&flagURLCache, "url-cache", "", "path to the discovered-URL cache JSON")
	scrapeCmd.Flags().IntVar(&flagLimit, "limit", 0, "stop after this many manuals (0 = all)")

	// runtime
	scrapeCmd.Flags().StringVar(&flagOutput, "output", "", "output folder for the text files")
	scrapeCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "show what would be scraped, don’t scrape")
	scrapeCmd.Flags().IntVar(&flagRequestFloorMS, "request-floor-ms", 0, "minimum gap between requests across all workers")
	scrapeCmd.Flags().IntVar(&flagRelaxedFloorMS, "relaxed-floor-ms", 0, "slower gap used after a backoff trip")
	scrapeCmd.Flags().IntVar(&flagBackoffThreshold, "backoff-threshold", 0, "consecutive failures before backing off")
	scrapeCmd.Flags().IntVar(&flagBackoffCooldownS, "backoff-cooldown-s", 0, "backoff sleep in seconds")
	scrapeCmd.Flags().IntVar(&flagMaxAttempts, "max-attempts", 0, "attempts per manual before recording it as failed")
	scrapeCmd.Flags().StringVar(&flagOCRCommand, "ocr-command", "", "command reading an image on stdin and printing text (enables the image fallback)")

	// headers/auth
	scrapeCmd.Flags().StringVar(&flagCookie, "cookie", "", "cookie string, e.g. \"key=value; other=123\"")
	scrapeCmd.Flags().StringVar(&flagCookieFile, "cookie-file", "", "path to a text file with cookies (one header line)")
	scrapeCmd.Flags().StringVar(&flagUserAgent, "user-agent", "", "override User-Agent")
	scrapeCmd.Flags().BoolVar(&flagBypassCF, "bypass-cf", false, "add browser-like headers for Cloudflare-fronted hosts")

	rootCmd.AddCommand(scrapeCmd)
}

func runScrape(cmd *cobra.Command, _ []string) error {
	cfg, usedPath, err := config.LoadMerged(config.Options{
		IgnoreConfig:     flagIgnoreConfig,
		Debug:            flagDebug,
		Output:           flagOutput,
		Category:         flagCategory,
		Brand:            flagBrand,
		RequestFloorMS:   flagRequestFloorMS,
		RelaxedFloorMS:   flagRelaxedFloorMS,
		BackoffThreshold: flagBackoffThreshold,
		BackoffCooldownS: flagBackoffCooldownS,
		MaxAttempts:      flagMaxAttempts,
		OCRCommand:       flagOCRCommand,
		Cookie:           flagCookie,
		CookieFile:       flagCookieFile,
		UserAgent:        flagUserAgent,
		BypassCF:         flagBypassCF,
		URLCache:         flagURLCache,
	})
	if err != nil {
		return err
	}

	logSvc := ui.NewLogger(cfg.Debug)
	if usedPath != "" {
		fmt.Printf("Config file: %s\n", usedPath)
	}

	if err := os.MkdirAll(cfg.Output, 0755); err != nil {
		return fmt.Errorf("cannot create output folder: %w", err)
	}
	defer util.RemoveIfEmpty(cfg.Output)

	fmt.Println("Full config:")
	cfg.Print()
	fmt.Println()

	manuals, err := selectManuals(cfg)
	if err != nil {
		return err
	}
	if len(manuals) == 0 {
		return fmt.Errorf("no manuals selected; run `manualgrab discover` first or pass --url")
	}
	if flagLimit > 0 && len(manuals) > flagLimit {
		manuals = manuals[:flagLimit]
	}

	fmt.Printf("Selected %d manuals.\n\n", len(manuals))

	if flagDryRun {
		for i, m := range manuals {
			fmt.Printf("%3d) %s %s  [%s]\n    %s\n", i+1, m.Brand, m.Model, m.Category, m.URL)
		}
		return nil
	}

	client, err := util.NewHTTPClient(util.HTTPClientOptions{
		Timeout:     30 * time.Second,
		UserAgent:   util.PickUserAgent(cfg.UserAgent),
		Cookie:      cfg.Cookie,
		CookieFile:  cfg.CookieFile,
		BypassCF:    cfg.BypassCF,
		DebugLogger: logSvc,
	})
	if err != nil {
		return err
	}

	journal, err := progress.Open(cfg.Journal)
	if err != nil {
		return err
	}
	defer func() {
		_ = journal.Close()
	}()

	ctx := context.Background()
	util.SetupInterruptHandler()

	var ocr extract.OCR = extract.Disabled{}
	if cfg.OCRCommand != "" {
		ocr = extract.NewCommand(cfg.OCRCommand, cfg.OCRArgs...)
	}

	gate := ratelimit.NewGate(cfg.RateMarker, time.Duration(cfg.RequestFloorMS)*time.Millisecond)

	pm := ui.NewProgressManager()
	stats := &ui.Stats{}
	start := time.Now()

	scr := &scraper.Scraper{
		Fetch:       viewer.NewClient(client, logSvc),
		Gate:        gate,
		Breaker:     ratelimit.NewBreaker(cfg.BackoffThreshold, time.Duration(cfg.BackoffCooldownS)*time.Second, time.Duration(cfg.RelaxedFloorMS)*time.Millisecond),
		Journal:     journal,
		Spool:       scraper.NewSpool(cfg.SpoolDir),
		Sink:        sink.New(cfg.Output),
		OCR:         ocr,
		Images:      scraper.HTTPImages(client),
		Log:         logSvc,
		Stats:       stats,
		MaxAttempts: cfg.MaxAttempts,
		MinPageText: cfg.MinPageText,
		Progress: func(name string) scraper.PageProgress {
			return pm.Register(name)
		},
	}

	err = scr.Run(ctx, manuals)
	pm.Close()
	if err != nil {
		return err
	}

	// long runs stack up superseded journal lines
	if cerr := journal.Compact(); cerr != nil {
		logSvc.Warnf("journal compact: %v\n", cerr)
	}

	fmt.Println()
	fmt.Println("Scrape Summary:")
	fmt.Printf("Manuals: %d\n", stats.TotalManuals.Load())
	fmt.Printf("Pages:   %d\n", stats.TotalPages.Load())
	fmt.Printf("Text:    %s\n", util.Human(stats.TotalChars.Load()))
	fmt.Printf("Skipped: %d\n", stats.Skipped.Load())
	fmt.Printf("Failed:  %d\n", stats.Failed.Load())
	fmt.Printf("Time:    %s\n", time.Since(start).Round(time.Second))
	fmt.Println("\nAll done. Re-run the same command to retry anything left pending.")

	return nil
}

func selectManuals(cfg *config.Config) ([]catalog.Manual, error) {
	if flagURL != "" {
		m, err := catalog.FromURL(flagURL, cfg.Category)
		if err != nil {
			return nil, err
		}
		return []catalog.Manual{m}, nil
	}

	cache, err := catalog.LoadCache(cfg.URLCache)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("url cache %s not found; run `manualgrab discover` first", cfg.URLCache)
		}
		return nil, err
	}

	return cache.Select(cfg.Category, cfg.Brand), nil
}
