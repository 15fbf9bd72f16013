package entities

import (
	"os"
	"path/filepath"
)

// Book is one catalogued library file. Rows are never physically removed:
// a file that disappears from disk is kept with Deleted=true so its Read
// flag survives until the file comes back.
//
// The scan/lookup identity of a book is the (FilePath, FileName) pair;
// FileExtension participates only in the storage-level uniqueness
// constraint and in path construction.
type Book struct {
	FilePath      string `gorm:"uniqueIndex:idx_books_identity;index:idx_books_path_name" json:"file_path"` // absolute directory containing the file
	FileName      string `gorm:"uniqueIndex:idx_books_identity;index:idx_books_path_name" json:"file_name"` // base name without extension
	FileExtension string `gorm:"uniqueIndex:idx_books_identity" json:"file_extension"`                      // lowercase, no dot
	Read          bool   `gorm:"default:false;index:idx_books_read" json:"read"`                            // set by reconciliation only
	Deleted       bool   `gorm:"default:false;index:idx_books_deleted" json:"deleted"`                      // absent from disk on the most recent scan
	Transferable  bool   `gorm:"default:false;index:idx_books_transferable" json:"transferable"`            // extension is in the configured transferable set
}

func (Book) TableName() string {
	return "books"
}

// FullPath reassembles the on-disk location of the book file.
func (b Book) FullPath() string {
	return filepath.Join(b.FilePath, b.FileName+"."+b.FileExtension)
}

// SizeOnDisk returns the current file size in bytes, or 0 if the file
// is missing.
func (b Book) SizeOnDisk() int64 {
	info, err := os.Stat(b.FullPath())
	if err != nil {
		return 0
	}
	return info.Size()
}
