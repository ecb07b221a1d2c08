package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyFile(t *testing.T) {
	tests := []struct {
		filename string
		want     FileKind
	}{
		{"notes.pdf", FileKindPDF},
		{"NOTES.PDF", FileKindPDF},
		{"scan.jpg", FileKindImage},
		{"scan.JPEG", FileKindImage},
		{"scan.png", FileKindImage},
		{"scan.gif", FileKindImage},
		{"scan.bmp", FileKindImage},
		{"scan.tiff", FileKindImage},
		{"scan.tif", FileKindUnsupported},
		{"notes.docx", FileKindUnsupported},
		{"README", FileKindUnsupported},
		{"", FileKindUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyFile(tt.filename))
		})
	}
}

func TestUploadKey(t *testing.T) {
	now := time.Date(2025, 3, 9, 14, 5, 7, 0, time.UTC)
	key := NewUploadKey(now, "3f2a9c1d-8b7e-4c6a-9d1e-0a1b2c3d4e5f")

	assert.Equal(t, "20250309_140507", key.Timestamp)
	assert.Equal(t, "3f2a9c1d", key.ShortID)
	assert.Equal(t, "ocr_results/20250309_140507_3f2a9c1d/", key.OCRPrefix())
}

func TestUploadKey_ShortID(t *testing.T) {
	key := NewUploadKey(time.Now(), "abc")
	assert.Equal(t, "abc", key.ShortID)
}

func TestUploadKey_ObjectName(t *testing.T) {
	key := UploadKey{Timestamp: "20250309_140507", ShortID: "3f2a9c1d"}

	tests := []struct {
		name     string
		folder   string
		filename string
		want     string
	}{
		{"no folder", "", "notes.pdf", "20250309_140507_3f2a9c1d_notes.pdf"},
		{"folder", "biology", "notes.pdf", "biology/20250309_140507_3f2a9c1d_notes.pdf"},
		{"folder slashes trimmed", "/biology/", "notes.pdf", "biology/20250309_140507_3f2a9c1d_notes.pdf"},
		{"nested folder", "school/biology", "scan.png", "school/biology/20250309_140507_3f2a9c1d_scan.png"},
		{"client path dropped", "", "C:\\Users\\me\\scan.png", "20250309_140507_3f2a9c1d_scan.png"},
		{"unix path dropped", "", "../../etc/passwd", "20250309_140507_3f2a9c1d_passwd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := key.ObjectName(tt.folder, tt.filename)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUploadKey_ObjectNameMissingFilename(t *testing.T) {
	key := UploadKey{Timestamp: "20250309_140507", ShortID: "3f2a9c1d"}
	for _, filename := range []string{"", "  ", "/"} {
		_, err := key.ObjectName("x", filename)
		assert.ErrorIs(t, err, ErrMissingFilename, "%q", filename)
	}
}
