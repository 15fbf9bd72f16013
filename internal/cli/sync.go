package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"kobomanager/internal/config"
	"kobomanager/internal/manager"
	"kobomanager/internal/report"
)

// SyncCommand runs one full synchronization against a connected device
type SyncCommand struct {
	ConfigDir string
	Verbose   bool
}

// NewSyncCommand creates a new SyncCommand
func NewSyncCommand() *SyncCommand {
	return &SyncCommand{}
}

// ParseFlags parses command line flags
func (cmd *SyncCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)

	fs.StringVar(&cmd.ConfigDir, "config-dir", "", "Directory holding the configuration file (default: user config dir)")
	fs.BoolVar(&cmd.Verbose, "verbose", false, "Print the full run report after syncing")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s sync [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Synchronize the ebook library with a connected Kobo reader.\n\n")
		fmt.Fprintf(os.Stderr, "This command:\n")
		fmt.Fprintf(os.Stderr, "  1. Scans the library paths and updates the catalog\n")
		fmt.Fprintf(os.Stderr, "  2. Copies transferable books onto the reader's SD card\n")
		fmt.Fprintf(os.Stderr, "  3. Marks finished books as read and removes them from the card\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s sync\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s sync -verbose\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s sync -config-dir ~/.config/kobomanager\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	return nil
}

// Run executes the sync command
func (cmd *SyncCommand) Run() error {
	fmt.Println("📚 Kobo Sync")
	fmt.Println("============")

	cfg, err := config.NewConfig(cmd.ConfigDir)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Printf("📁 Library: %s\n", strings.Join(cfg.Library.Paths, ", "))
	fmt.Printf("🔌 Device: %s\n", cfg.Device.Path)

	m := manager.New(cfg)
	run, err := m.Run()
	if err != nil {
		return err
	}

	printRunSummary(run)

	if cmd.Verbose {
		data, err := json.MarshalIndent(run, "", "  ")
		if err == nil {
			fmt.Printf("\n=== Run report ===\n%s\n", data)
		}
	}

	fmt.Println("\n✅ Sync complete!")
	return nil
}

func printRunSummary(run *report.RunReport) {
	if run.Scan != nil {
		fmt.Printf("\n🔍 Scan: %d added, %d restored, %d missing\n",
			run.Scan.Added, run.Scan.Restored, run.Scan.Missing)
	}
	if run.Transfer != nil {
		fmt.Printf("📤 Transferred %d books (%d failed, %d already on device, %d skipped for space)\n",
			run.Transfer.Transferred, run.Transfer.Failed, run.Transfer.AlreadyOnDevice,
			run.Transfer.InsufficientSpace+run.Transfer.SkippedDirectories)
	}
	if run.MarkedRead > 0 {
		fmt.Printf("📖 Marked %d books as read\n", run.MarkedRead)
	}
	if run.Library != nil {
		fmt.Printf("📚 Library: %d active books, %d read\n", run.Library.Active, run.Library.Read)
	}
}
