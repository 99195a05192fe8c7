package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/tobyv/manualgrab/internal/config"
	"github.com/tobyv/manualgrab/internal/progress"

	"github.com/spf13/cobra"
)

var flagStatusFailed bool

func init() {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the progress journal has recorded so far",
		RunE:  runStatus,
	}

	statusCmd.Flags().BoolVar(&flagStatusFailed, "failed", false, "also list the URLs that exhausted their retries")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, _, err := config.LoadMerged(config.Options{
		IgnoreConfig: flagIgnoreConfig,
		Debug:        flagDebug,
	})
	if err != nil {
		return err
	}

	j, err := progress.Open(cfg.Journal)
	if err != nil {
		return err
	}
	defer func() {
		_ = j.Close()
	}()

	counts := j.Counts()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	_, _ = fmt.Fprintln(w, "STATUS\tCOUNT")
	for _, st := range []progress.Status{
		progress.StatusDone,
		progress.StatusPartial,
		progress.StatusSkipped,
		progress.StatusFailed,
	} {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", st, counts[st])
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to flush table output: %v\n", err)
	}

	if flagStatusFailed {
		failed := j.URLsWith(progress.StatusFailed)
		if len(failed) > 0 {
			fmt.Println("\nFailed:")
			for _, u := range failed {
				fmt.Println("  " + u)
			}
		}
	}

	fmt.Printf("\nJournal: %s\n", cfg.Journal)
	return nil
}
