package cli

import (
	"flag"
	"fmt"
	"os"

	"kobomanager/internal/config"
	"kobomanager/internal/library"
)

// ScanCommand refreshes the catalog from the library paths without touching a device
type ScanCommand struct {
	ConfigDir string
	Verbose   bool
}

// NewScanCommand creates a new ScanCommand
func NewScanCommand() *ScanCommand {
	return &ScanCommand{}
}

// ParseFlags parses command line flags
func (cmd *ScanCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)

	fs.StringVar(&cmd.ConfigDir, "config-dir", "", "Directory holding the configuration file (default: user config dir)")
	fs.BoolVar(&cmd.Verbose, "verbose", false, "List every active book after scanning")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s scan [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Scan the library paths and update the catalog.\n\n")
		fmt.Fprintf(os.Stderr, "New books are added, previously missing books are restored,\n")
		fmt.Fprintf(os.Stderr, "and books no longer on disk are marked deleted. No device needed.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s scan\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s scan -verbose\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	return nil
}

// Run executes the scan command
func (cmd *ScanCommand) Run() error {
	fmt.Println("🔍 Library Scan")
	fmt.Println("===============")

	cfg, err := config.NewConfig(cmd.ConfigDir)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cat := library.NewCatalog(cfg.Library.DatabasePath, cfg.Library.Paths, cfg.Library.TransferableFormats)
	if err := cat.Connect(); err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer func() {
		if err := cat.Disconnect(); err != nil {
			fmt.Printf("⚠️  Failed to close catalog: %v\n", err)
		}
	}()

	stats, err := cat.Scan()
	if err != nil {
		return fmt.Errorf("library scan failed: %w", err)
	}

	fmt.Printf("\n✅ Scan finished: %d added, %d restored, %d missing\n",
		stats.Added, stats.Restored, stats.Missing)

	if cmd.Verbose {
		books, err := cat.ListActive(false)
		if err != nil {
			return fmt.Errorf("failed to list books: %w", err)
		}
		fmt.Printf("\n📚 Active books (%d):\n", len(books))
		for _, book := range books {
			marker := "📕"
			if book.Read {
				marker = "📗"
			}
			fmt.Printf("  %s %s\n", marker, book.FullPath())
		}
	}

	return nil
}
