package transfer

import (
	"archive/zip"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/nwaples/rardecode/v2"
)

// isContainer reports whether an extension names an archive that gets
// unpacked onto the card. Comic archives (cbz) are not containers; the
// device reads them natively, so they copy verbatim.
func isContainer(ext string) bool {
	switch strings.ToLower(ext) {
	case "zip", "rar":
		return true
	}
	return false
}

// extractArchive unpacks a container into the destination directory,
// preserving member paths.
func extractArchive(archivePath, ext, destDir string) error {
	var err error
	switch strings.ToLower(ext) {
	case "zip":
		err = extractZip(archivePath, destDir)
	case "rar":
		err = extractRar(archivePath, destDir)
	default:
		err = fmt.Errorf("unsupported archive format: %s", ext)
	}
	if err != nil {
		return err
	}
	log.Printf("Extracted archive: %s to %s", archivePath, destDir)
	return nil
}

func extractZip(archivePath, destDir string) error {
	zipReader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer zipReader.Close()

	for _, file := range zipReader.File {
		destPath := filepath.Join(destDir, file.Name)

		if file.FileInfo().IsDir() {
			os.MkdirAll(destPath, 0755)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		if err := extractZipFile(file, destPath); err != nil {
			return fmt.Errorf("failed to extract file %s: %w", file.Name, err)
		}
	}
	return nil
}

// extractZipFile extracts a single file from a zip archive
func extractZipFile(file *zip.File, destPath string) error {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	outFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer outFile.Close()

	_, err = io.Copy(outFile, rc)
	return err
}

func extractRar(archivePath, destDir string) error {
	rarReader, err := rardecode.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer rarReader.Close()

	for {
		header, err := rarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read archive %s: %w", archivePath, err)
		}

		destPath := filepath.Join(destDir, header.Name)

		if header.IsDir {
			os.MkdirAll(destPath, 0755)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		if err := extractRarFile(rarReader, destPath); err != nil {
			return fmt.Errorf("failed to extract file %s: %w", header.Name, err)
		}
	}
	return nil
}

// extractRarFile writes the current archive entry to disk. The reader is
// already positioned at the entry by Next.
func extractRarFile(rarReader *rardecode.ReadCloser, destPath string) error {
	outFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer outFile.Close()

	_, err = io.Copy(outFile, rarReader)
	return err
}
