package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/tobyv/manualgrab/internal/catalog"
	"github.com/tobyv/manualgrab/internal/config"
	"github.com/tobyv/manualgrab/internal/ratelimit"
	"github.com/tobyv/manualgrab/internal/ui"
	"github.com/tobyv/manualgrab/internal/util"

	"github.com/spf13/cobra"
)

var (
	flagDiscoverCategory string
	flagDiscoverBaseURL  string
	flagDiscoverCache    string
	flagMaxListingPages  int
)

func init() {
	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Walk a category listing and cache every manual URL it links to",
		RunE:  runDiscover,
	}

	discoverCmd.Flags().StringVar(&flagDiscoverCategory, "category", "", "category slug to walk (e.g. laptops)")
	discoverCmd.Flags().StringVar(&flagDiscoverBaseURL, "base-url", "", "site root the category lives under")
	discoverCmd.Flags().StringVar(&flagDiscoverCache, "url-cache", "", "path to the discovered-URL cache JSON")
	discoverCmd.Flags().IntVar(&flagMaxListingPages, "max-pages", 0, "stop after this many listing pages (0 = all)")

	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(_ *cobra.Command, _ []string) error {
	cfg, usedPath, err := config.LoadMerged(config.Options{
		IgnoreConfig: flagIgnoreConfig,
		Debug:        flagDebug,
		Category:     flagDiscoverCategory,
		BaseURL:      flagDiscoverBaseURL,
		URLCache:     flagDiscoverCache,
	})
	if err != nil {
		return err
	}

	if cfg.Category == "" {
		return fmt.Errorf("missing --category and no category in config")
	}

	logSvc := ui.NewLogger(cfg.Debug)
	if usedPath != "" {
		fmt.Printf("Config file: %s\n", usedPath)
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

	gate := ratelimit.NewGate(cfg.RateMarker, time.Duration(cfg.RequestFloorMS)*time.Millisecond)
	cat := catalog.New(client, gate, logSvc)

	listingURL := strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.Trim(cfg.Category, "/")
	fmt.Printf("Walking %s ...\n", listingURL)

	ctx := context.Background()
	util.SetupInterruptHandler()

	manuals, err := cat.Discover(ctx, listingURL, cfg.Category, flagMaxListingPages)
	if err != nil {
		// keep whatever was found before the failure
		if len(manuals) == 0 {
			return err
		}
		logSvc.Errorf("discovery stopped early: %v\n", err)
	}

	fmt.Printf("Found %d manuals in %q.\n", len(manuals), cfg.Category)

	cache, err := catalog.LoadCache(cfg.URLCache)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		cache = catalog.Cache{}
	}
	cache[cfg.Category] = manuals

	if err := cache.Save(cfg.URLCache); err != nil {
		return err
	}

	fmt.Printf("Cache written to %s\n", cfg.URLCache)
	for _, b := range cache.Brands(cfg.Category) {
		fmt.Printf("  - %s\n", b)
	}

	return nil
}
