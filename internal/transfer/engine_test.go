package transfer

import (
	"archive/zip"
	"bytes"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kobomanager/internal/kobo"
	"kobomanager/internal/library"
)

type fixture struct {
	engine  *Engine
	cat     *library.Catalog
	device  *kobo.Device
	root    string
	workdir string
	dbPath  string
}

func setupEngine(t *testing.T, formats []string, deviceRows map[string]int) (*fixture, func()) {
	t.Helper()

	base := t.TempDir()
	root := filepath.Join(base, "library")
	devicePath := filepath.Join(base, "KOBOeReader")
	sdcard := filepath.Join(base, "sdcard")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.MkdirAll(devicePath, 0755))
	require.NoError(t, os.MkdirAll(sdcard, 0755))
	createDeviceDB(t, devicePath, deviceRows)

	dbPath := filepath.Join(base, "catalog.sqlite")
	cat := library.NewCatalog(dbPath, []string{root}, formats)
	require.NoError(t, cat.Connect())

	device := kobo.NewDevice(devicePath, filepath.Join(".kobo", "KoboReader.sqlite"), sdcard)
	require.NoError(t, device.Connect())
	require.NoError(t, device.EnsureWorkdir())

	engine := NewEngine(cat, device, 0)
	engine.AvailableSpace = fakeSpace(1 << 30)

	fx := &fixture{
		engine:  engine,
		cat:     cat,
		device:  device,
		root:    root,
		workdir: device.Workdir(),
		dbPath:  dbPath,
	}
	cleanup := func() {
		device.Disconnect()
		cat.Disconnect()
	}
	return fx, cleanup
}

func createDeviceDB(t *testing.T, devicePath string, rows map[string]int) {
	t.Helper()

	dbDir := filepath.Join(devicePath, ".kobo")
	require.NoError(t, os.MkdirAll(dbDir, 0755))

	conn, err := sql.Open("sqlite3", filepath.Join(dbDir, "KoboReader.sqlite"))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Exec(`CREATE TABLE content (ContentID TEXT PRIMARY KEY, ContentType INTEGER, ReadStatus INTEGER)`)
	require.NoError(t, err)
	for id, status := range rows {
		_, err = conn.Exec(`INSERT INTO content (ContentID, ContentType, ReadStatus) VALUES (?, 6, ?)`, id, status)
		require.NoError(t, err)
	}
}

func writeBook(t *testing.T, dir, name string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), bytes.Repeat([]byte("x"), size), 0644))
}

func writeZip(t *testing.T, path string, members map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range members {
		member, err := w.Create(name)
		require.NoError(t, err)
		_, err = member.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

// fakeSpace scripts successive free-space readings; the last value repeats
// once the script runs out.
func fakeSpace(values ...int64) func(string) int64 {
	i := 0
	return func(string) int64 {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
}

func scan(t *testing.T, fx *fixture) {
	t.Helper()
	_, err := fx.cat.Scan()
	require.NoError(t, err)
}

func TestEngine_TransferAll_CopiesBooks(t *testing.T) {
	fx, cleanup := setupEngine(t, []string{"epub", "pdf"}, nil)
	defer cleanup()

	writeBook(t, filepath.Join(fx.root, "fiction"), "dune.epub", 10)
	writeBook(t, fx.root, "solo.pdf", 10)
	scan(t, fx)

	stats, err := fx.engine.TransferAll()
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Transferred)
	assert.Zero(t, stats.Failed)
	assert.FileExists(t, filepath.Join(fx.workdir, "fiction", "dune.epub"))
	assert.FileExists(t, filepath.Join(fx.workdir, "solo.pdf"))
}

func TestEngine_TransferAll_EmptyLibrary(t *testing.T) {
	fx, cleanup := setupEngine(t, []string{"epub"}, nil)
	defer cleanup()
	scan(t, fx)

	stats, err := fx.engine.TransferAll()
	require.NoError(t, err)
	assert.Equal(t, &Stats{}, stats)
}

func TestEngine_TransferAll_ExpandsZipContainer(t *testing.T) {
	fx, cleanup := setupEngine(t, []string{"zip"}, nil)
	defer cleanup()

	writeZip(t, filepath.Join(fx.root, "bundle.zip"), map[string]string{
		"series/book one.epub": "first",
		"series/book two.epub": "second",
	})
	scan(t, fx)

	stats, err := fx.engine.TransferAll()
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Transferred)
	content, err := os.ReadFile(filepath.Join(fx.workdir, "series", "book one.epub"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(content))
	assert.FileExists(t, filepath.Join(fx.workdir, "series", "book two.epub"))
	// The container itself never lands on the card.
	assert.NoFileExists(t, filepath.Join(fx.workdir, "bundle.zip"))
}

func TestEngine_TransferAll_ComicArchiveCopiedVerbatim(t *testing.T) {
	fx, cleanup := setupEngine(t, []string{"cbz"}, nil)
	defer cleanup()

	// A cbz is zip-structured, but the device reads it natively.
	writeZip(t, filepath.Join(fx.root, "comics", "issue-1.cbz"), map[string]string{"page-001.png": "art"})
	scan(t, fx)

	stats, err := fx.engine.TransferAll()
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Transferred)
	assert.FileExists(t, filepath.Join(fx.workdir, "comics", "issue-1.cbz"))
	assert.NoFileExists(t, filepath.Join(fx.workdir, "comics", "page-001.png"))
}

func TestEngine_TransferAll_SkipsUnreadOnDevice(t *testing.T) {
	rows := map[string]int{
		"file:///mnt/sd/kobomanager/unread.epub":   kobo.ReadStatusUnread,
		"file:///mnt/sd/kobomanager/finished.epub": kobo.ReadStatusFinished,
	}
	fx, cleanup := setupEngine(t, []string{"epub"}, rows)
	defer cleanup()

	writeBook(t, fx.root, "unread.epub", 10)
	writeBook(t, fx.root, "finished.epub", 10)
	scan(t, fx)

	stats, err := fx.engine.TransferAll()
	require.NoError(t, err)

	assert.Equal(t, 1, stats.AlreadyOnDevice)
	assert.NoFileExists(t, filepath.Join(fx.workdir, "unread.epub"))
	// A finished book is fair game for a fresh copy.
	assert.Equal(t, 1, stats.Transferred)
	assert.FileExists(t, filepath.Join(fx.workdir, "finished.epub"))
}

func TestEngine_TransferAll_DirectoryGate(t *testing.T) {
	fx, cleanup := setupEngine(t, []string{"epub"}, nil)
	defer cleanup()

	fiction := filepath.Join(fx.root, "fiction")
	writeBook(t, fiction, "one.epub", 10)
	writeBook(t, fiction, "two.epub", 10)
	scan(t, fx)

	fx.engine.AvailableSpace = fakeSpace(15)

	stats, err := fx.engine.TransferAll()
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SkippedDirectories)
	assert.Zero(t, stats.Transferred)
	assert.NoFileExists(t, filepath.Join(fx.workdir, "fiction", "one.epub"))
}

func TestEngine_TransferAll_SmallestBookGate(t *testing.T) {
	fx, cleanup := setupEngine(t, []string{"epub"}, nil)
	defer cleanup()

	fiction := filepath.Join(fx.root, "fiction")
	writeBook(t, fiction, "one.epub", 10)
	writeBook(t, fiction, "two.epub", 10)
	scan(t, fx)

	// Plenty at the first reading, almost nothing once the directory is
	// re-checked on entry.
	fx.engine.AvailableSpace = fakeSpace(100, 5)

	stats, err := fx.engine.TransferAll()
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SkippedDirectories)
	assert.Zero(t, stats.Transferred)
}

func TestEngine_TransferAll_PerBookSpaceGate(t *testing.T) {
	fx, cleanup := setupEngine(t, []string{"epub"}, nil)
	defer cleanup()

	fiction := filepath.Join(fx.root, "fiction")
	writeBook(t, fiction, "one.epub", 10)
	writeBook(t, fiction, "two.epub", 10)
	scan(t, fx)

	// Space for exactly one book; the post-copy reading leaves too little
	// for the second.
	fx.engine.AvailableSpace = fakeSpace(100, 10, 5)

	stats, err := fx.engine.TransferAll()
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Transferred)
	assert.Equal(t, 1, stats.InsufficientSpace)
	assert.FileExists(t, filepath.Join(fx.workdir, "fiction", "one.epub"))
	assert.NoFileExists(t, filepath.Join(fx.workdir, "fiction", "two.epub"))
}

func TestEngine_TransferAll_SpaceAcrossDirectories(t *testing.T) {
	t.Run("depletion blocks a later directory", func(t *testing.T) {
		fx, cleanup := setupEngine(t, []string{"epub"}, nil)
		defer cleanup()

		writeBook(t, filepath.Join(fx.root, "a-dir"), "one.epub", 10)
		writeBook(t, filepath.Join(fx.root, "b-dir"), "two.epub", 10)
		scan(t, fx)

		fx.engine.AvailableSpace = fakeSpace(12, 12, 2)

		stats, err := fx.engine.TransferAll()
		require.NoError(t, err)

		assert.Equal(t, 1, stats.Transferred)
		assert.Equal(t, 1, stats.SkippedDirectories)
		assert.FileExists(t, filepath.Join(fx.workdir, "a-dir", "one.epub"))
		assert.NoFileExists(t, filepath.Join(fx.workdir, "b-dir", "two.epub"))
	})

	t.Run("recovered space admits a later directory", func(t *testing.T) {
		fx, cleanup := setupEngine(t, []string{"epub"}, nil)
		defer cleanup()

		writeBook(t, filepath.Join(fx.root, "a-dir"), "one.epub", 10)
		writeBook(t, filepath.Join(fx.root, "b-dir"), "two.epub", 10)
		scan(t, fx)

		fx.engine.AvailableSpace = fakeSpace(12, 12, 50)

		stats, err := fx.engine.TransferAll()
		require.NoError(t, err)

		assert.Equal(t, 2, stats.Transferred)
		assert.Zero(t, stats.SkippedDirectories)
	})
}

func TestEngine_TransferAll_FormatRecheck(t *testing.T) {
	fx, cleanup := setupEngine(t, []string{"epub", "pdf"}, nil)
	defer cleanup()

	writeBook(t, fx.root, "keep.epub", 10)
	writeBook(t, fx.root, "drop.pdf", 10)
	scan(t, fx)

	// Narrow the configured formats after the scan. The stored flags are
	// now stale; the per-book re-check has to catch the pdf.
	narrowed := library.NewCatalog(fx.dbPath, []string{fx.root}, []string{"epub"})
	require.NoError(t, narrowed.Connect())
	defer narrowed.Disconnect()

	engine := NewEngine(narrowed, fx.device, 0)
	engine.AvailableSpace = fakeSpace(1 << 30)

	stats, err := engine.TransferAll()
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Transferred)
	assert.Equal(t, 1, stats.UnsupportedFormat)
	assert.FileExists(t, filepath.Join(fx.workdir, "keep.epub"))
	assert.NoFileExists(t, filepath.Join(fx.workdir, "drop.pdf"))
}

func TestEngine_TransferAll_OutsideLibraryPath(t *testing.T) {
	fx, cleanup := setupEngine(t, []string{"epub"}, nil)
	defer cleanup()

	writeBook(t, fx.root, "book.epub", 10)
	scan(t, fx)

	// Same catalog rows, but the configured paths no longer cover them.
	rebased := library.NewCatalog(fx.dbPath, []string{filepath.Join(fx.root, "moved")}, []string{"epub"})
	require.NoError(t, rebased.Connect())
	defer rebased.Disconnect()

	engine := NewEngine(rebased, fx.device, 0)
	engine.AvailableSpace = fakeSpace(1 << 30)

	stats, err := engine.TransferAll()
	require.NoError(t, err)

	assert.Equal(t, 1, stats.OutsideLibrary)
	assert.Zero(t, stats.Transferred)
}

func TestEngine_TransferAll_CorruptArchive(t *testing.T) {
	fx, cleanup := setupEngine(t, []string{"zip", "rar", "epub"}, nil)
	defer cleanup()

	writeBook(t, fx.root, "broken.zip", 64)
	writeBook(t, fx.root, "broken.rar", 64)
	writeBook(t, fx.root, "fine.epub", 10)
	scan(t, fx)

	stats, err := fx.engine.TransferAll()
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 1, stats.Transferred)
	assert.FileExists(t, filepath.Join(fx.workdir, "fine.epub"))
}

func TestEngine_TransferAll_MissingSourceFile(t *testing.T) {
	fx, cleanup := setupEngine(t, []string{"epub"}, nil)
	defer cleanup()

	writeBook(t, fx.root, "ghost.epub", 10)
	scan(t, fx)
	require.NoError(t, os.Remove(filepath.Join(fx.root, "ghost.epub")))

	stats, err := fx.engine.TransferAll()
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Transferred)
}

func TestAvailableSpace(t *testing.T) {
	assert.GreaterOrEqual(t, availableSpace(t.TempDir()), int64(0))
	assert.Equal(t, int64(0), availableSpace(filepath.Join(t.TempDir(), "missing")))
}
