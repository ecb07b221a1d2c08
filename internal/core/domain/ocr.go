package domain

import "strings"

// =============================================================================
// OCR Results
// =============================================================================

// OCRResult is the text found in a document plus its page layout.
type OCRResult struct {
	FullText       string    `json:"full_text"`
	StructuredData []OCRPage `json:"structured_data"`
	Error          *string   `json:"error"`
}

// OCRPage is one detected page.
type OCRPage struct {
	Blocks []OCRBlock `json:"blocks"`
	Width  int32      `json:"width"`
	Height int32      `json:"height"`
}

// OCRBlock is a block of paragraphs.
type OCRBlock struct {
	Text       string         `json:"text"`
	Confidence float32        `json:"confidence"`
	Paragraphs []OCRParagraph `json:"paragraphs"`
}

// OCRParagraph is a paragraph of words.
type OCRParagraph struct {
	Text       string    `json:"text"`
	Confidence float32   `json:"confidence"`
	Words      []OCRWord `json:"words"`
}

// OCRWord is a single word with its bounding polygon.
type OCRWord struct {
	Text        string     `json:"text"`
	Confidence  float32    `json:"confidence"`
	BoundingBox [][2]int32 `json:"bounding_box"`
}

// HasText reports whether any non-blank text was detected.
func (r *OCRResult) HasText() bool {
	return r != nil && strings.TrimSpace(r.FullText) != ""
}

// SetError records a detection error message.
func (r *OCRResult) SetError(msg string) {
	if msg == "" {
		r.Error = nil
		return
	}
	r.Error = &msg
}

// MergeOCRResults concatenates results page by page, e.g. the output shards
// of a multi-page PDF.
func MergeOCRResults(results ...*OCRResult) *OCRResult {
	merged := &OCRResult{StructuredData: []OCRPage{}}
	var texts []string
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.FullText != "" {
			texts = append(texts, r.FullText)
		}
		merged.StructuredData = append(merged.StructuredData, r.StructuredData...)
		if r.Error != nil && merged.Error == nil {
			merged.SetError(*r.Error)
		}
	}
	merged.FullText = strings.Join(texts, "")
	return merged
}
