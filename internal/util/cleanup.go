package util

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// SetupInterruptHandler exits on SIGINT/SIGTERM. The progress journal and the
// per-manual spool files are the resume state, so nothing is deleted here; a
// killed worker loses at most the page that was in flight.
func SetupInterruptHandler() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sig
		fmt.Println("\nInterrupt received. Progress is saved; re-run to resume.")
		os.Exit(1)
	}()
}

func RemoveIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	if len(entries) == 0 {
		if err := os.Remove(dir); err == nil {
			fmt.Printf("Removed empty output folder: %s\n", dir)
		}
	}
}
