package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"kobomanager/internal/config"
	"kobomanager/internal/manager"
	"kobomanager/internal/scheduler"
)

// WatchCommand keeps running sync on a cron schedule until interrupted
type WatchCommand struct {
	ConfigDir string
	Schedule  string
}

// NewWatchCommand creates a new WatchCommand
func NewWatchCommand() *WatchCommand {
	return &WatchCommand{}
}

// ParseFlags parses command line flags
func (cmd *WatchCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)

	fs.StringVar(&cmd.ConfigDir, "config-dir", "", "Directory holding the configuration file (default: user config dir)")
	fs.StringVar(&cmd.Schedule, "schedule", "", "Cron schedule for sync runs (default: from config)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s watch [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Run sync on a schedule until interrupted with Ctrl+C.\n\n")
		fmt.Fprintf(os.Stderr, "A sync runs immediately on start, then on every schedule tick.\n")
		fmt.Fprintf(os.Stderr, "Runs that would overlap a still-active sync are skipped.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s watch\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s watch -schedule \"0 * * * *\"\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	return nil
}

// Run executes the watch command
func (cmd *WatchCommand) Run() error {
	fmt.Println("👀 Kobo Watch")
	fmt.Println("=============")

	cfg, err := config.NewConfig(cmd.ConfigDir)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	schedule := cmd.Schedule
	if schedule == "" {
		schedule = cfg.Watch.Schedule
	}
	if err := scheduler.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	m := manager.New(cfg)
	s := scheduler.NewSyncScheduler(schedule, func() error {
		_, err := m.Run()
		return err
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	fmt.Printf("⏰ Syncing on schedule %q. Press Ctrl+C to stop.\n", schedule)
	s.RunNow()
	if next := s.GetNextRunTime(); next != nil {
		fmt.Printf("⏭️  Next scheduled run: %s\n", next.Format("2006-01-02 15:04:05"))
	}

	<-ctx.Done()
	fmt.Println("\n🛑 Stopping...")
	s.Stop()

	return nil
}
