package library

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"kobomanager/internal/entities"
)

// SupportedFormats lists every file extension the scanner recognizes.
// The transferable set configured by the user is a subset of these.
var SupportedFormats = []string{"epub", "mobi", "pdf", "azw3", "cbz", "zip", "rar"}

var (
	ErrNotConnected = errors.New("not connected to the library database")
	ErrNotInLibrary = errors.New("not in any library path")
)

// Catalog is the durable inventory of library files. It records every file
// ever observed under the configured library paths and tracks soft-deletion,
// read state, and transfer eligibility per book.
type Catalog struct {
	dbPath       string
	paths        []string
	transferable map[string]bool

	db *gorm.DB
}

// ScanStats summarizes one scan pass over the library paths.
type ScanStats struct {
	Added    int `json:"added"`    // newly inserted records
	Restored int `json:"restored"` // previously deleted records observed on disk again
	Missing  int `json:"missing"`  // records newly marked deleted this pass
}

// Stats holds catalog row counts.
type Stats struct {
	Total        int64 `json:"total"`
	Active       int64 `json:"active"`
	Read         int64 `json:"read"`
	Deleted      int64 `json:"deleted"`
	Transferable int64 `json:"transferable"` // active and transferable
}

func NewCatalog(dbPath string, paths []string, transferableFormats []string) *Catalog {
	transferable := make(map[string]bool, len(transferableFormats))
	for _, format := range transferableFormats {
		transferable[strings.ToLower(format)] = true
	}
	return &Catalog{
		dbPath:       dbPath,
		paths:        paths,
		transferable: transferable,
	}
}

// Paths returns the configured library roots in configuration order.
func (c *Catalog) Paths() []string {
	return c.paths
}

// Connect opens the catalog database, creating it and its schema on first
// use. Idempotent with respect to the schema.
func (c *Catalog) Connect() error {
	dbDir := filepath.Dir(c.dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return fmt.Errorf("failed to create catalog directory %s: %w", dbDir, err)
	}

	db, err := gorm.Open(sqlite.Open(c.dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open library database %s: %w", c.dbPath, err)
	}

	if err := db.AutoMigrate(&entities.Book{}); err != nil {
		return fmt.Errorf("failed to migrate library database: %w", err)
	}

	c.db = db
	log.Printf("Connected to library database: %s", c.dbPath)
	return nil
}

// Disconnect closes the database handle. Safe to call when not connected.
func (c *Catalog) Disconnect() error {
	if c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	c.db = nil
	if err := sqlDB.Close(); err != nil {
		return err
	}
	log.Printf("Disconnected from library database.")
	return nil
}

// bookKey is the scan/lookup identity of a book: extension excluded.
type bookKey struct {
	path string
	name string
}

// Scan walks every configured library path in configuration order and brings
// the catalog in line with the filesystem: new files are inserted, files seen
// again are revived, and any catalogued key not observed across the whole
// pass is marked deleted afterwards. Marking happens only after all roots are
// walked, so a file moved between two configured roots is never flagged
// deleted in the pass that finds it at its new home.
func (c *Catalog) Scan() (*ScanStats, error) {
	if c.db == nil {
		return nil, ErrNotConnected
	}
	log.Printf("Scanning library paths for ebook files...")

	remaining, err := c.allKeys()
	if err != nil {
		return nil, err
	}

	supported := make(map[string]bool, len(SupportedFormats))
	for _, format := range SupportedFormats {
		supported[format] = true
	}

	stats := &ScanStats{}
	seen := make(map[bookKey]bool)

	for _, root := range c.paths {
		if _, err := os.Stat(root); err != nil {
			log.Printf("WARNING: library path does not exist: %s", root)
			continue
		}

		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Printf("WARNING: cannot read %s: %v", path, err)
				return nil
			}
			if d.IsDir() {
				return nil
			}

			ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
			if !supported[ext] {
				return nil
			}
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			if name == "" {
				return nil
			}
			if _, err := os.Stat(path); err != nil {
				// Unreadable or dangling entry: the missing pass below
				// will pick up its record, if any.
				return nil
			}

			key := bookKey{path: filepath.Dir(path), name: name}
			if seen[key] {
				return nil
			}
			seen[key] = true
			delete(remaining, key)

			inserted, restored, err := c.addOrUpdate(key.path, key.name, ext, c.transferable[ext])
			if err != nil {
				return err
			}
			if inserted {
				stats.Added++
				log.Printf("Added book to library: %s", path)
			}
			if restored {
				stats.Restored++
			}
			return nil
		})
		if walkErr != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", root, walkErr)
		}
	}

	// Keys that remain were not observed anywhere on disk.
	missing := make([]bookKey, 0, len(remaining))
	for key := range remaining {
		missing = append(missing, key)
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].path != missing[j].path {
			return missing[i].path < missing[j].path
		}
		return missing[i].name < missing[j].name
	})
	for _, key := range missing {
		newlyMissing, err := c.markMissing(key)
		if err != nil {
			return nil, err
		}
		if newlyMissing {
			stats.Missing++
		}
	}

	log.Printf("Finished scanning library paths.")
	return stats, nil
}

// addOrUpdate inserts a newly observed file, then revives the (path, name)
// pair and refreshes its transferable flag. The insert ignores conflicts on
// the full (path, name, extension) triple; the revival is keyed by pair, so
// a new extension appearing for a known pair revives the pair's other rows
// too. Rows of a pair therefore always agree on the deleted flag.
func (c *Catalog) addOrUpdate(dir, name, ext string, transferable bool) (inserted, restored bool, err error) {
	book := entities.Book{
		FilePath:      dir,
		FileName:      name,
		FileExtension: ext,
		Transferable:  transferable,
	}

	var existing []entities.Book
	if err := c.db.Select("deleted").
		Where("file_path = ? AND file_name = ?", dir, name).
		Find(&existing).Error; err != nil {
		return false, false, fmt.Errorf("failed to look up book %s: %w", book.FullPath(), err)
	}

	res := c.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&book)
	if res.Error != nil {
		return false, false, fmt.Errorf("failed to add book %s: %w", book.FullPath(), res.Error)
	}
	inserted = res.RowsAffected > 0

	if len(existing) == 0 {
		// Fresh pair: the inserted row already carries the right flags.
		return inserted, false, nil
	}
	if existing[0].Deleted {
		restored = true
		log.Printf("Book restored: %s", book.FullPath())
	}

	upd := c.db.Model(&entities.Book{}).
		Where("file_path = ? AND file_name = ?", dir, name).
		Updates(map[string]any{"deleted": false, "transferable": transferable})
	if upd.Error != nil {
		return inserted, restored, fmt.Errorf("failed to update book %s: %w", book.FullPath(), upd.Error)
	}
	return inserted, restored, nil
}

// markMissing flags every row of the pair as deleted. Reports whether the
// pair was active before this pass (marking an already deleted record is a
// silent no-op in effect, but always executed).
func (c *Catalog) markMissing(key bookKey) (bool, error) {
	var existing entities.Book
	if err := c.db.Select("deleted").
		Where("file_path = ? AND file_name = ?", key.path, key.name).
		Take(&existing).Error; err != nil {
		return false, fmt.Errorf("failed to look up book %s: %w", filepath.Join(key.path, key.name), err)
	}
	if !existing.Deleted {
		log.Printf("WARNING: book not found on disk: %s", filepath.Join(key.path, key.name))
	}

	res := c.db.Model(&entities.Book{}).
		Where("file_path = ? AND file_name = ?", key.path, key.name).
		Update("deleted", true)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark book %s deleted: %w", filepath.Join(key.path, key.name), res.Error)
	}
	return !existing.Deleted, nil
}

func (c *Catalog) allKeys() (map[bookKey]bool, error) {
	var rows []entities.Book
	if err := c.db.Select("file_path", "file_name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list catalog keys: %w", err)
	}
	keys := make(map[bookKey]bool, len(rows))
	for _, row := range rows {
		keys[bookKey{path: row.FilePath, name: row.FileName}] = true
	}
	return keys, nil
}

// ListActive returns all non-deleted records, optionally narrowed to
// transferable ones.
func (c *Catalog) ListActive(transferableOnly bool) ([]entities.Book, error) {
	if c.db == nil {
		return nil, ErrNotConnected
	}
	query := c.db.Where("deleted = ?", false)
	if transferableOnly {
		query = query.Where("transferable = ?", true)
	}
	var books []entities.Book
	if err := query.Find(&books).Error; err != nil {
		return nil, fmt.Errorf("failed to list active books: %w", err)
	}
	return books, nil
}

// IsTransferableFormat reports whether an extension is currently configured
// for transfer. Stored transferable flags may predate a configuration
// change, so callers re-check against this before acting on them.
func (c *Catalog) IsTransferableFormat(ext string) bool {
	return c.transferable[strings.ToLower(ext)]
}

// MarkRead sets the read flag for the exact extension-qualified record.
// Idempotent.
func (c *Catalog) MarkRead(book entities.Book) error {
	if c.db == nil {
		return ErrNotConnected
	}
	res := c.db.Model(&entities.Book{}).
		Where("file_path = ? AND file_name = ? AND file_extension = ?",
			book.FilePath, book.FileName, book.FileExtension).
		Update("read", true)
	if res.Error != nil {
		return fmt.Errorf("failed to mark book %s read: %w", book.FullPath(), res.Error)
	}
	return nil
}

// Stats reports catalog row counts.
func (c *Catalog) Stats() (*Stats, error) {
	if c.db == nil {
		return nil, ErrNotConnected
	}
	stats := &Stats{}
	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&stats.Total, c.db.Model(&entities.Book{})},
		{&stats.Active, c.db.Model(&entities.Book{}).Where("deleted = ?", false)},
		{&stats.Read, c.db.Model(&entities.Book{}).Where("read = ?", true)},
		{&stats.Deleted, c.db.Model(&entities.Book{}).Where("deleted = ?", true)},
		{&stats.Transferable, c.db.Model(&entities.Book{}).Where("deleted = ? AND transferable = ?", false, true)},
	}
	for _, count := range counts {
		if err := count.query.Count(count.dest).Error; err != nil {
			return nil, fmt.Errorf("failed to count books: %w", err)
		}
	}
	return stats, nil
}

// ResolveRoot returns the first configured root that is a prefix of dir, in
// configuration order. Overlapping roots resolve to whichever comes first.
func ResolveRoot(roots []string, dir string) (string, error) {
	for _, root := range roots {
		if strings.HasPrefix(dir, root) {
			return root, nil
		}
	}
	return "", fmt.Errorf("%s is %w", dir, ErrNotInLibrary)
}
