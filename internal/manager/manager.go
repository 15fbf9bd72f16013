package manager

import (
	"fmt"
	"log"
	"time"

	"kobomanager/internal/config"
	"kobomanager/internal/kobo"
	"kobomanager/internal/library"
	"kobomanager/internal/report"
	"kobomanager/internal/transfer"
)

// Manager wires the catalog, the device, and the transfer engine into one
// synchronization run.
type Manager struct {
	Config  *config.Config
	Library *library.Catalog
	Device  *kobo.Device
	Engine  *transfer.Engine
	Reports *report.Writer
}

func New(cfg *config.Config) *Manager {
	lib := library.NewCatalog(cfg.Library.DatabasePath, cfg.Library.Paths, cfg.Library.TransferableFormats)
	device := kobo.NewDevice(cfg.Device.Path, cfg.Device.DatabasePath, cfg.Device.SDCard)
	return &Manager{
		Config:  cfg,
		Library: lib,
		Device:  device,
		Engine:  transfer.NewEngine(lib, device, cfg.Transfer.SettleDelay),
		Reports: report.NewWriter(cfg.Reports.Dir),
	}
}

// Run performs one full synchronization: device checks, library scan, book
// transfer, and read-state reconciliation. The run report is saved whether
// the run succeeds or not.
func (m *Manager) Run() (*report.RunReport, error) {
	log.Printf("Starting synchronization run...")
	run := &report.RunReport{StartedAt: time.Now()}

	err := m.sync(run)
	if err != nil {
		run.Error = err.Error()
	}
	run.FinishedAt = time.Now()

	if _, saveErr := m.Reports.Save(run); saveErr != nil {
		log.Printf("Failed to save run report: %v", saveErr)
	}
	if _, pruneErr := m.Reports.Prune(m.Config.Reports.RetentionDays); pruneErr != nil {
		log.Printf("Failed to prune old reports: %v", pruneErr)
	}

	if err != nil {
		return run, err
	}
	log.Printf("Synchronization finished.")
	return run, nil
}

// sync aborts on anything that prevents a consistent starting state (a
// missing device or an unreachable catalog). Everything past that point
// contains its own failures.
func (m *Manager) sync(run *report.RunReport) error {
	if err := m.Device.CheckPath(); err != nil {
		return err
	}
	if err := m.Device.CheckDatabase(); err != nil {
		return err
	}
	if err := m.Device.CheckSDCard(); err != nil {
		return err
	}
	if err := m.Device.EnsureWorkdir(); err != nil {
		return err
	}

	if err := m.Device.Connect(); err != nil {
		return err
	}
	defer func() {
		if err := m.Device.Disconnect(); err != nil {
			log.Printf("Failed to disconnect from the kobo database: %v", err)
		}
	}()

	if err := m.Library.Connect(); err != nil {
		return err
	}
	defer func() {
		if err := m.Library.Disconnect(); err != nil {
			log.Printf("Failed to disconnect from the library database: %v", err)
		}
	}()

	scanStats, err := m.Library.Scan()
	if err != nil {
		return fmt.Errorf("library scan failed: %w", err)
	}
	run.Scan = scanStats

	transferStats, err := m.Engine.TransferAll()
	if err != nil {
		return fmt.Errorf("transfer failed: %w", err)
	}
	run.Transfer = transferStats

	marked, err := m.reconcile()
	if err != nil {
		return err
	}
	run.MarkedRead = marked

	stats, err := m.Library.Stats()
	if err != nil {
		return err
	}
	run.Library = stats
	return nil
}

// reconcile walks every active book and propagates device read state back
// into the catalog, deleting finished copies from the card.
func (m *Manager) reconcile() (int, error) {
	books, err := m.Library.ListActive(false)
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, book := range books {
		if m.Device.ReconcileReadBook(m.Library, m.Config.Library.Paths, book) {
			marked++
		}
	}
	return marked, nil
}
