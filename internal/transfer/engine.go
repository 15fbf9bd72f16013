package transfer

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"kobomanager/internal/entities"
	"kobomanager/internal/kobo"
	"kobomanager/internal/library"
)

// Stats summarizes one transfer pass. Skips are not failures; each skip
// reason is counted separately so a run report can tell them apart.
type Stats struct {
	Transferred        int `json:"transferred"`
	Failed             int `json:"failed"`
	AlreadyOnDevice    int `json:"already_on_device"`
	UnsupportedFormat  int `json:"unsupported_format"`
	InsufficientSpace  int `json:"insufficient_space"`
	SkippedDirectories int `json:"skipped_directories"`
	OutsideLibrary     int `json:"outside_library"`
}

// Engine copies transferable library books onto the device's working
// directory, one directory at a time, keeping a running estimate of the
// card's free space.
type Engine struct {
	library     *library.Catalog
	device      *kobo.Device
	settleDelay time.Duration

	// AvailableSpace reports free bytes at a mount point. Tests swap it
	// out to script capacity without a real card.
	AvailableSpace func(path string) int64
}

func NewEngine(lib *library.Catalog, device *kobo.Device, settleDelay time.Duration) *Engine {
	return &Engine{
		library:        lib,
		device:         device,
		settleDelay:    settleDelay,
		AvailableSpace: availableSpace,
	}
}

// TransferAll copies every transferable, unsynced book onto the device,
// grouped by destination directory in catalog order. Individual book and
// directory problems are logged and counted, never fatal; the only error
// returned is a failure to list the candidates at all.
func (e *Engine) TransferAll() (*Stats, error) {
	books, err := e.library.ListActive(true)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	if len(books) == 0 {
		log.Printf("No transferable books found in the library.")
		return stats, nil
	}

	groups, order := e.groupByDestination(books, stats)
	available := e.AvailableSpace(e.device.SDCard())

	for _, destDir := range order {
		dirBooks := groups[destDir]

		var dirSize int64
		smallest := int64(math.MaxInt64)
		for _, book := range dirBooks {
			size := book.SizeOnDisk()
			dirSize += size
			if size < smallest {
				smallest = size
			}
		}

		if dirSize > available {
			log.Printf("WARNING: not enough space for directory %s. Required: %.2f MB, Available: %.2f MB. Skipping directory.",
				destDir, toMB(dirSize), toMB(available))
			stats.SkippedDirectories++
			continue
		}

		// The running estimate drifts as books land; re-read it before
		// committing to the directory.
		available = e.AvailableSpace(e.device.SDCard())
		if available < smallest {
			log.Printf("WARNING: not enough space for any book in directory %s. Available: %.2f MB. Skipping directory.",
				destDir, toMB(available))
			stats.SkippedDirectories++
			continue
		}

		for _, book := range dirBooks {
			if e.device.IsUnreadOnDevice(e.library.Paths(), book) {
				log.Printf("Skipping book already on the device and unread: %s", book.FullPath())
				stats.AlreadyOnDevice++
				continue
			}

			if !e.library.IsTransferableFormat(book.FileExtension) {
				log.Printf("Skipping book with unsupported format: %s", book.FullPath())
				stats.UnsupportedFormat++
				continue
			}

			size := book.SizeOnDisk()
			if size > available {
				log.Printf("WARNING: not enough space for book %s. Required: %.2f MB, Available: %.2f MB. Skipping book.",
					book.FileName, toMB(size), toMB(available))
				stats.InsufficientSpace++
				continue
			}

			if err := e.transferBook(book, destDir); err != nil {
				log.Printf("Failed to transfer %s: %v", book.FullPath(), err)
				stats.Failed++
				continue
			}
			stats.Transferred++

			// Give the card's filesystem time to settle before trusting
			// a fresh free-space reading.
			time.Sleep(e.settleDelay)
			available = e.AvailableSpace(e.device.SDCard())
		}
	}

	log.Printf("Finished transferring books. Transferred: %d, Failed: %d", stats.Transferred, stats.Failed)
	return stats, nil
}

// groupByDestination buckets books by their destination directory on the
// card, preserving first-seen order. Books outside every library path are
// counted and dropped here.
func (e *Engine) groupByDestination(books []entities.Book, stats *Stats) (map[string][]entities.Book, []string) {
	groups := make(map[string][]entities.Book)
	var order []string
	for _, book := range books {
		destDir, err := e.device.DestinationDir(e.library.Paths(), book)
		if err != nil {
			log.Printf("File path %s is not in any library path.", book.FilePath)
			stats.OutsideLibrary++
			continue
		}
		if _, ok := groups[destDir]; !ok {
			order = append(order, destDir)
		}
		groups[destDir] = append(groups[destDir], book)
	}
	return groups, order
}

// transferBook places one book under the destination directory. Container
// archives are unpacked in place of being copied whole.
func (e *Engine) transferBook(book entities.Book, destDir string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", destDir, err)
	}

	if isContainer(book.FileExtension) {
		if err := extractArchive(book.FullPath(), book.FileExtension, destDir); err != nil {
			return err
		}
	} else {
		target := filepath.Join(destDir, book.FileName+"."+book.FileExtension)
		if err := copyFile(book.FullPath(), target); err != nil {
			return fmt.Errorf("failed to copy %s: %w", book.FullPath(), err)
		}
	}

	log.Printf("Transferred: %s to %s", book.FullPath(), destDir)
	return nil
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}

// availableSpace reads free bytes at a mount point. Any failure reads as
// zero, which stops transfers rather than risking a full card.
func availableSpace(path string) int64 {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		log.Printf("Failed to read available space at %s: %v", path, err)
		return 0
	}
	return int64(st.Bavail) * int64(st.Frsize)
}

func toMB(bytes int64) float64 {
	return float64(bytes) / (1024 * 1024)
}
