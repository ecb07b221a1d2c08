package domain

import (
	"errors"
	"path"
	"strings"
	"time"
)

// =============================================================================
// File Kinds
// =============================================================================

var ErrUnsupportedFile = errors.New("unsupported file type")

// FileKind decides which OCR path a document takes.
type FileKind string

const (
	FileKindPDF         FileKind = "pdf"
	FileKindImage       FileKind = "image"
	FileKindUnsupported FileKind = "unsupported"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tiff": true,
}

// ClassifyFile returns the kind of a file from its lower-cased extension.
func ClassifyFile(filename string) FileKind {
	ext := strings.ToLower(path.Ext(filename))
	switch {
	case ext == ".pdf":
		return FileKindPDF
	case imageExtensions[ext]:
		return FileKindImage
	default:
		return FileKindUnsupported
	}
}

// =============================================================================
// Upload Naming
// =============================================================================

var ErrMissingFilename = errors.New("filename is required")

// OCRResultsFolder holds the output of asynchronous PDF text detection.
const OCRResultsFolder = "ocr_results"

// UploadKey identifies one upload: a second-resolution timestamp plus a short
// random id.
type UploadKey struct {
	Timestamp string
	ShortID   string
}

// NewUploadKey builds a key from the upload time and a random id such as a
// UUID. Only the first eight characters of id are kept.
func NewUploadKey(now time.Time, id string) UploadKey {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return UploadKey{
		Timestamp: now.Format("20060102_150405"),
		ShortID:   short,
	}
}

// ObjectName returns the storage object name for the upload:
// [folder/]YYYYMMDD_HHMMSS_<id>_<filename>.
func (k UploadKey) ObjectName(folder, filename string) (string, error) {
	base := CleanFilename(filename)
	if base == "" {
		return "", ErrMissingFilename
	}
	name := k.Timestamp + "_" + k.ShortID + "_" + base
	if folder = strings.Trim(folder, "/ "); folder != "" {
		name = folder + "/" + name
	}
	return name, nil
}

// OCRPrefix returns the object prefix for PDF text detection output.
func (k UploadKey) OCRPrefix() string {
	return OCRResultsFolder + "/" + k.Timestamp + "_" + k.ShortID + "/"
}

// CleanFilename drops any directory part a client sent with the filename.
func CleanFilename(filename string) string {
	filename = strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/")
	base := path.Base(filename)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
