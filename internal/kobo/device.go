package kobo

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"kobomanager/internal/entities"
	"kobomanager/internal/library"
)

const (
	// WorkdirName is the directory this tool owns on the removable storage.
	// Every copy lands beneath it and cleanup only ever deletes beneath it.
	WorkdirName = "kobomanager"

	// contentIDPrefix is fixed by the device firmware: the SD card is
	// mounted at /mnt/sd internally, wherever the host mounts it.
	contentIDPrefix = "file:///mnt/sd/" + WorkdirName + "/"
)

// Read status codes used by the device's content table.
const (
	ReadStatusUnread   = 0
	ReadStatusReading  = 1
	ReadStatusFinished = 2
)

// ReadState is the three-way result of a device read-status lookup. The
// distinction between an absent row and a read one matters: both disable
// the transfer skip, but only ReadStateRead triggers reconciliation.
type ReadState int

const (
	ReadStateAbsent ReadState = iota // no content row for the identifier
	ReadStateUnread                  // row present with the unread status code
	ReadStateRead                    // row present with any other status code
)

var (
	ErrDeviceNotFound   = errors.New("kobo device not found")
	ErrDatabaseNotFound = errors.New("kobo database not found")
	ErrNotConnected     = errors.New("not connected to the kobo database")
)

// Content is one row of the device's content table, reduced to the fields
// this system reads.
type Content struct {
	ID         string
	ReadStatus int
}

// Device is a read-mostly view over a connected Kobo: its content database
// and its removable storage. The content database belongs to the device
// firmware; this system never writes its rows.
type Device struct {
	path    string
	dbPath  string
	sdcard  string
	workdir string

	conn *sql.DB
}

func NewDevice(devicePath, databaseRelPath, sdcard string) *Device {
	return &Device{
		path:    devicePath,
		dbPath:  filepath.Join(devicePath, databaseRelPath),
		sdcard:  sdcard,
		workdir: filepath.Join(sdcard, WorkdirName),
	}
}

// SDCard returns the removable-storage mount root.
func (d *Device) SDCard() string {
	return d.sdcard
}

// Workdir returns the managed directory on the removable storage.
func (d *Device) Workdir() string {
	return d.workdir
}

// CheckPath verifies the device mount point exists.
func (d *Device) CheckPath() error {
	if _, err := os.Stat(d.path); err != nil {
		return fmt.Errorf("%w at %s", ErrDeviceNotFound, d.path)
	}
	return nil
}

// CheckDatabase verifies the device's content database exists. A mount
// without one means an incompatible or half-connected device.
func (d *Device) CheckDatabase() error {
	if _, err := os.Stat(d.dbPath); err != nil {
		return fmt.Errorf("%w at %s", ErrDatabaseNotFound, d.dbPath)
	}
	return nil
}

// CheckSDCard verifies the removable-storage mount point exists.
func (d *Device) CheckSDCard() error {
	if _, err := os.Stat(d.sdcard); err != nil {
		return fmt.Errorf("%w: no removable storage at %s", ErrDeviceNotFound, d.sdcard)
	}
	return nil
}

// EnsureWorkdir creates the managed directory on the removable storage.
func (d *Device) EnsureWorkdir() error {
	if _, err := os.Stat(d.workdir); err == nil {
		return nil
	}
	if err := os.MkdirAll(d.workdir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", d.workdir, err)
	}
	log.Printf("Created directory: %s", d.workdir)
	return nil
}

// Connect opens the device's content database.
func (d *Device) Connect() error {
	if err := d.CheckDatabase(); err != nil {
		return err
	}
	conn, err := sql.Open("sqlite3", d.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open kobo database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return fmt.Errorf("failed to open kobo database: %w", err)
	}
	d.conn = conn
	log.Printf("Connected to kobo database: %s", d.dbPath)
	return nil
}

// Disconnect closes the database handle. Safe to call when not connected.
func (d *Device) Disconnect() error {
	if d.conn == nil {
		return nil
	}
	conn := d.conn
	d.conn = nil
	if err := conn.Close(); err != nil {
		return err
	}
	log.Printf("Disconnected from kobo database.")
	return nil
}

// relativePath places a book relative to its owning library root. This is
// the one spot where library identity maps into device identity; both the
// content identifier and the on-card file location derive from it.
func relativePath(roots []string, book entities.Book) (string, error) {
	root, err := library.ResolveRoot(roots, book.FilePath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, book.FilePath)
	if err != nil {
		return "", fmt.Errorf("failed to relativize %s against %s: %w", book.FilePath, root, err)
	}
	return rel, nil
}

// ContentID derives the identifier the device records for a library book:
// its path relative to the owning library root, rebased under the
// device-internal SD mount. Books directly in a root join-normalize to the
// working directory itself.
func ContentID(roots []string, book entities.Book) (string, error) {
	rel, err := relativePath(roots, book)
	if err != nil {
		return "", err
	}
	return contentIDPrefix + path.Join(filepath.ToSlash(rel), book.FileName+"."+book.FileExtension), nil
}

// DestinationDir maps a book's library directory onto the working
// directory, preserving its position relative to the owning root. It is
// the filesystem twin of ContentID: a book copied here is the one the
// device records under that identifier.
func (d *Device) DestinationDir(roots []string, book entities.Book) (string, error) {
	rel, err := relativePath(roots, book)
	if err != nil {
		return "", err
	}
	return filepath.Join(d.workdir, rel), nil
}

// ReadState looks up the device's read status for a library book.
func (d *Device) ReadState(roots []string, book entities.Book) (ReadState, error) {
	if d.conn == nil {
		return ReadStateAbsent, ErrNotConnected
	}
	contentID, err := ContentID(roots, book)
	if err != nil {
		return ReadStateAbsent, err
	}

	var status int
	err = d.conn.QueryRow(`SELECT ReadStatus FROM content WHERE ContentID = ?`, contentID).Scan(&status)
	if err == sql.ErrNoRows {
		log.Printf("Book %s does not exist in the kobo database.", contentID)
		return ReadStateAbsent, nil
	}
	if err != nil {
		return ReadStateAbsent, fmt.Errorf("failed to query read status for %s: %w", contentID, err)
	}

	log.Printf("Book %s exists in the kobo database. Read status: %d", contentID, status)
	if status == ReadStatusUnread {
		return ReadStateUnread, nil
	}
	return ReadStateRead, nil
}

// IsUnreadOnDevice reports whether the book is present on the device and
// not yet finished. An absent row and a read/reading row both come back
// false, as do lookup failures; uncertainty never suppresses a transfer.
func (d *Device) IsUnreadOnDevice(roots []string, book entities.Book) bool {
	state, err := d.ReadState(roots, book)
	if err != nil {
		log.Printf("Failed to check read status for %s: %v", book.FullPath(), err)
		return false
	}
	return state == ReadStateUnread
}

// ReconcileReadBook checks whether the device reports the book as read or
// in progress and, if so, marks the catalog record read and removes the
// copy beneath the working directory. An already-missing copy logs a
// warning and still counts as reconciled. Reports whether read state was
// propagated.
func (d *Device) ReconcileReadBook(lib *library.Catalog, roots []string, book entities.Book) bool {
	state, err := d.ReadState(roots, book)
	if err != nil {
		log.Printf("Failed to check read status for %s: %v", book.FullPath(), err)
		return false
	}
	if state != ReadStateRead {
		return false
	}

	log.Printf("Book %s is marked as read on the device. Updating the library and removing the copy.", book.FullPath())
	if err := lib.MarkRead(book); err != nil {
		log.Printf("Failed to mark %s as read: %v", book.FullPath(), err)
	}

	rel, err := relativePath(roots, book)
	if err != nil {
		log.Printf("Failed to locate the copy of %s: %v", book.FullPath(), err)
		return true
	}
	target := filepath.Join(d.workdir, rel, book.FileName+"."+book.FileExtension)
	if _, err := os.Stat(target); os.IsNotExist(err) {
		log.Printf("WARNING: file not found on SD card: %s", target)
		return true
	}
	if err := os.Remove(target); err != nil {
		log.Printf("Failed to delete file %s: %v", target, err)
		return true
	}
	log.Printf("Deleted file from SD card: %s", target)
	return true
}

// ManagedContent lists every content row the device holds beneath the
// working directory, excluding firmware-bundled content types.
func (d *Device) ManagedContent() ([]Content, error) {
	if d.conn == nil {
		return nil, ErrNotConnected
	}
	query := `
		SELECT ContentID, ReadStatus
		FROM content
		WHERE
			ContentType IN (1, 6, 14, 15, 16, 19) AND ContentID LIKE ?;
	`
	rows, err := d.conn.Query(query, contentIDPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query kobo content: %w", err)
	}
	defer rows.Close()

	var contents []Content
	for rows.Next() {
		var content Content
		if err := rows.Scan(&content.ID, &content.ReadStatus); err != nil {
			return nil, fmt.Errorf("failed to scan content row: %w", err)
		}
		contents = append(contents, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating content rows: %w", err)
	}
	return contents, nil
}
