package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"kobomanager/internal/config"
	"kobomanager/internal/kobo"
	"kobomanager/internal/library"
)

// StatusCommand reports on the catalog and, when present, the connected device
type StatusCommand struct {
	ConfigDir string
}

// NewStatusCommand creates a new StatusCommand
func NewStatusCommand() *StatusCommand {
	return &StatusCommand{}
}

// ParseFlags parses command line flags
func (cmd *StatusCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)

	fs.StringVar(&cmd.ConfigDir, "config-dir", "", "Directory holding the configuration file (default: user config dir)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s status [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Show catalog statistics and device connection state.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s status\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	return nil
}

// Run executes the status command
func (cmd *StatusCommand) Run() error {
	fmt.Println("📊 KoboManager Status")
	fmt.Println("=====================")

	cfg, err := config.NewConfig(cmd.ConfigDir)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Printf("📁 Library paths: %s\n", strings.Join(cfg.Library.Paths, ", "))
	fmt.Printf("🗂️  Catalog: %s\n", cfg.Library.DatabasePath)

	device := kobo.NewDevice(cfg.Device.Path, cfg.Device.DatabasePath, cfg.Device.SDCard)
	if err := device.CheckPath(); err != nil {
		fmt.Printf("🔌 Device: %s (not mounted)\n", cfg.Device.Path)
	} else {
		fmt.Printf("🔌 Device: %s (mounted)\n", cfg.Device.Path)
	}
	if err := device.CheckSDCard(); err != nil {
		fmt.Printf("💳 SD card: %s (not mounted)\n", cfg.Device.SDCard)
	} else {
		fmt.Printf("💳 SD card: %s (mounted)\n", cfg.Device.SDCard)
	}

	if err := device.Connect(); err == nil {
		defer func() {
			if err := device.Disconnect(); err != nil {
				fmt.Printf("⚠️  Failed to close device database: %v\n", err)
			}
		}()
		content, err := device.ManagedContent()
		if err != nil {
			return fmt.Errorf("failed to read device content: %w", err)
		}
		unread := 0
		for _, c := range content {
			if c.ReadStatus == kobo.ReadStatusUnread {
				unread++
			}
		}
		fmt.Printf("📲 On device: %d managed books (%d unread, %d read)\n",
			len(content), unread, len(content)-unread)
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

	stats, err := cat.Stats()
	if err != nil {
		return fmt.Errorf("failed to read catalog stats: %w", err)
	}

	fmt.Println("\n📚 Catalog:")
	fmt.Printf("  Total:        %d\n", stats.Total)
	fmt.Printf("  Active:       %d\n", stats.Active)
	fmt.Printf("  Read:         %d\n", stats.Read)
	fmt.Printf("  Deleted:      %d\n", stats.Deleted)
	fmt.Printf("  Transferable: %d\n", stats.Transferable)

	return nil
}
