// Command generate_demo creates a demo library tree and a mock Kobo device
// with sample public domain books, so a full sync run can be exercised
// without real hardware.
// Usage: go run cmd/generate_demo/main.go [-dir path/to/demo]
package main

import (
	"archive/zip"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"kobomanager/internal/entities"
	"kobomanager/internal/kobo"
)

const defaultDemoDir = "./demo"

type demoBook struct {
	Dir     string
	Name    string
	Ext     string
	Content string
	// Status seeds a row in the mock device database. Books without one
	// stay off the device until the first sync.
	Status *int
}

func main() {
	dir := flag.String("dir", defaultDemoDir, "directory to create the demo environment in")
	flag.Parse()

	root, err := filepath.Abs(*dir)
	if err != nil {
		log.Fatalf("Failed to resolve demo directory: %v", err)
	}

	log.Printf("Generating demo environment at %s...", root)

	// Start fresh
	if err := os.RemoveAll(root); err != nil {
		log.Fatalf("Failed to remove existing demo directory: %v", err)
	}

	libraryDir := filepath.Join(root, "library")
	deviceDir := filepath.Join(root, "device")
	sdcardDir := filepath.Join(root, "sdcard")

	books := getPublicDomainBooks()

	if err := createLibrary(libraryDir, books); err != nil {
		log.Fatalf("Failed to create demo library: %v", err)
	}
	if err := createDevice(deviceDir, libraryDir, books); err != nil {
		log.Fatalf("Failed to create mock device: %v", err)
	}
	if err := os.MkdirAll(sdcardDir, 0755); err != nil {
		log.Fatalf("Failed to create mock SD card: %v", err)
	}

	log.Println("Demo environment generated successfully!")
	fmt.Printf("\nRun a sync against it with:\n\n")
	fmt.Printf("  DEVICE_PATH=%s \\\n", deviceDir)
	fmt.Printf("  DEVICE_SDCARD=%s \\\n", sdcardDir)
	fmt.Printf("  LIBRARY_PATHS=%s \\\n", libraryDir)
	fmt.Printf("  LIBRARY_DATABASE=%s \\\n", filepath.Join(root, "catalog.sqlite"))
	fmt.Printf("  go run . sync\n\n")
	fmt.Printf("moby-dick is seeded as finished on the device, so the first sync\n")
	fmt.Printf("copies it and then reconciles it back off the card. Add zip to\n")
	fmt.Printf("TRANSFERABLE_FORMATS to see container expansion with beagle-notes.zip.\n")
}

func getPublicDomainBooks() []demoBook {
	unread := kobo.ReadStatusUnread
	finished := kobo.ReadStatusFinished
	return []demoBook{
		{Dir: "fiction", Name: "pride-and-prejudice", Ext: "epub",
			Content: "It is a truth universally acknowledged, that a single man in " +
				"possession of a good fortune, must be in want of a wife.",
			Status: &unread},
		{Dir: "fiction", Name: "moby-dick", Ext: "epub",
			Content: "Call me Ishmael. Some years ago (never mind how long precisely) " +
				"having little or no money in my purse, I thought I would sail about.",
			Status: &finished},
		{Dir: "fiction", Name: "frankenstein", Ext: "epub",
			Content: "You will rejoice to hear that no disaster has accompanied the " +
				"commencement of an enterprise which you have regarded with evil forebodings."},
		{Dir: "philosophy", Name: "meditations", Ext: "epub",
			Content: "From my grandfather Verus I learned good morals and the " +
				"government of my temper."},
		{Dir: "science", Name: "origin-of-species", Ext: "pdf",
			Content: "When on board H.M.S. Beagle, as naturalist, I was much struck " +
				"with certain facts in the distribution of the inhabitants of South America."},
		{Dir: "comics", Name: "little-nemo", Ext: "cbz",
			Content: "Nemo dreamed he was falling again."},
	}
}

func createLibrary(libraryDir string, books []demoBook) error {
	for _, book := range books {
		dir := filepath.Join(libraryDir, book.Dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		path := filepath.Join(dir, book.Name+"."+book.Ext)
		if err := os.WriteFile(path, []byte(book.Content), 0644); err != nil {
			return err
		}
		log.Printf("Created: %s", path)
	}

	// One container archive to demonstrate expansion
	archivePath := filepath.Join(libraryDir, "science", "beagle-notes.zip")
	if err := writeZip(archivePath, map[string]string{
		"beagle-notes/chapter-01.txt": "St. Jago, Cape de Verd Islands.",
		"beagle-notes/chapter-02.txt": "Rio de Janeiro.",
	}); err != nil {
		return err
	}
	log.Printf("Created: %s", archivePath)

	return nil
}

func writeZip(path string, members map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range members {
		w, err := zw.Create(name)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte(content)); err != nil {
			return err
		}
	}
	return zw.Close()
}

// createDevice builds the .kobo/KoboReader.sqlite content database the way
// the reader firmware would, seeding read-status rows for the books that
// carry one.
func createDevice(deviceDir, libraryDir string, books []demoBook) error {
	koboDir := filepath.Join(deviceDir, ".kobo")
	if err := os.MkdirAll(koboDir, 0755); err != nil {
		return err
	}

	db, err := sql.Open("sqlite3", filepath.Join(koboDir, "KoboReader.sqlite"))
	if err != nil {
		return err
	}
	defer db.Close()

	schema := "CREATE TABLE content (ContentID TEXT PRIMARY KEY, ContentType INTEGER, ReadStatus INTEGER)"
	if _, err := db.Exec(schema); err != nil {
		return err
	}

	roots := []string{libraryDir}
	for _, book := range books {
		if book.Status == nil {
			continue
		}
		record := entities.Book{
			FilePath:      filepath.Join(libraryDir, book.Dir),
			FileName:      book.Name,
			FileExtension: book.Ext,
		}
		contentID, err := kobo.ContentID(roots, record)
		if err != nil {
			return err
		}
		if _, err := db.Exec(
			"INSERT INTO content (ContentID, ContentType, ReadStatus) VALUES (?, 6, ?)",
			contentID, *book.Status,
		); err != nil {
			return err
		}
		log.Printf("Seeded device row: %s (status %d)", contentID, *book.Status)
	}

	return nil
}
