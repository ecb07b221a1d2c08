// Package ocr extracts text from uploaded documents with Google Cloud Vision.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/examai/backend/internal/core/domain"
	"github.com/examai/backend/internal/shell/blob"
)

const pdfMimeType = "application/pdf"

// DefaultBatchSize is the number of PDF pages per asynchronous output file.
const DefaultBatchSize = 2

var (
	ErrDetectionFailed = errors.New("text detection failed")
	ErrNoOutput        = errors.New("text detection produced no output")
)

// Detector finds text in documents.
type Detector interface {
	// DetectImage runs document text detection on image bytes.
	DetectImage(ctx context.Context, content []byte) (*domain.OCRResult, error)
	// DetectPDF runs detection on inline PDF bytes (first pages only).
	DetectPDF(ctx context.Context, content []byte) (*domain.OCRResult, error)
	// DetectPDFAsync runs detection on a PDF in Cloud Storage, writing JSON
	// results under outputURI, and waits for the operation to finish.
	DetectPDFAsync(ctx context.Context, sourceURI, outputURI string) error
	Close() error
}

// VisionDetector implements Detector with the Vision ImageAnnotator API.
type VisionDetector struct {
	client    *vision.ImageAnnotatorClient
	batchSize int32
	logger    *slog.Logger
}

// NewVisionDetector creates a Vision client.
func NewVisionDetector(ctx context.Context, logger *slog.Logger, opts ...option.ClientOption) (*VisionDetector, error) {
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create vision client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VisionDetector{
		client:    client,
		batchSize: DefaultBatchSize,
		logger:    logger.With("component", "ocr"),
	}, nil
}

// Close releases the underlying gRPC connection.
func (d *VisionDetector) Close() error {
	return d.client.Close()
}

func documentTextFeature() []*visionpb.Feature {
	return []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}}
}

// DetectImage runs DOCUMENT_TEXT_DETECTION on a single image.
func (d *VisionDetector) DetectImage(ctx context.Context, content []byte) (*domain.OCRResult, error) {
	resp, err := d.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: content},
			Features: documentTextFeature(),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, ErrNoOutput
	}

	result := FromImageResponse(resp.GetResponses()[0])
	d.logger.Debug("image text detected", "chars", len(result.FullText), "pages", len(result.StructuredData))
	return result, nil
}

// DetectPDF annotates inline PDF bytes. Vision only reads the first pages
// of an inline file; use DetectPDFAsync for whole documents.
func (d *VisionDetector) DetectPDF(ctx context.Context, content []byte) (*domain.OCRResult, error) {
	resp, err := d.client.BatchAnnotateFiles(ctx, &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{{
			InputConfig: &visionpb.InputConfig{Content: content, MimeType: pdfMimeType},
			Features:    documentTextFeature(),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, ErrNoOutput
	}

	result := FromFileResponse(resp.GetResponses()[0])
	d.logger.Debug("pdf text detected", "chars", len(result.FullText), "pages", len(result.StructuredData))
	return result, nil
}

// DetectPDFAsync starts an asynchronous annotation of the PDF at sourceURI,
// writing batches of DefaultBatchSize pages under outputURI, and blocks until
// the operation completes or ctx ends.
func (d *VisionDetector) DetectPDFAsync(ctx context.Context, sourceURI, outputURI string) error {
	op, err := d.client.AsyncBatchAnnotateFiles(ctx, &visionpb.AsyncBatchAnnotateFilesRequest{
		Requests: []*visionpb.AsyncAnnotateFileRequest{{
			InputConfig: &visionpb.InputConfig{
				GcsSource: &visionpb.GcsSource{Uri: sourceURI},
				MimeType:  pdfMimeType,
			},
			Features: documentTextFeature(),
			OutputConfig: &visionpb.OutputConfig{
				GcsDestination: &visionpb.GcsDestination{Uri: outputURI},
				BatchSize:      d.batchSize,
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}

	d.logger.Info("waiting for pdf text detection", "source", sourceURI, "output", outputURI)
	if _, err := op.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}
	return nil
}

// =============================================================================
// Result Collection
// =============================================================================

// CollectResults reads the JSON output files written under prefix by an
// asynchronous PDF detection, in page order, and merges them.
func CollectResults(ctx context.Context, storage blob.Storage, prefix string) (*domain.OCRResult, error) {
	objects, err := storage.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, o := range objects {
		if strings.HasSuffix(o.Name, ".json") {
			names = append(names, o.Name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: nothing under %s", ErrNoOutput, prefix)
	}
	sort.Slice(names, func(i, j int) bool { return outputOrder(names[i]) < outputOrder(names[j]) })

	unmarshal := protojson.UnmarshalOptions{DiscardUnknown: true}
	results := make([]*domain.OCRResult, 0, len(names))
	for _, name := range names {
		data, err := storage.Read(ctx, name)
		if err != nil {
			return nil, err
		}
		var resp visionpb.AnnotateFileResponse
		if err := unmarshal.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		results = append(results, FromFileResponse(&resp))
	}
	return domain.MergeOCRResults(results...), nil
}

// outputOrder sorts "output-3-to-4.json" after "output-1-to-2.json" and
// before "output-11-to-12.json".
func outputOrder(name string) string {
	base := name[strings.LastIndex(name, "/")+1:]
	var first, last int
	if _, err := fmt.Sscanf(base, "output-%d-to-%d.json", &first, &last); err == nil {
		return fmt.Sprintf("%010d", first)
	}
	return base
}

// =============================================================================
// Conversion
// =============================================================================

// FromFileResponse merges the per-page responses of a file annotation.
func FromFileResponse(resp *visionpb.AnnotateFileResponse) *domain.OCRResult {
	results := make([]*domain.OCRResult, 0, len(resp.GetResponses()))
	for _, r := range resp.GetResponses() {
		results = append(results, FromImageResponse(r))
	}
	merged := domain.MergeOCRResults(results...)
	if msg := resp.GetError().GetMessage(); msg != "" && merged.Error == nil {
		merged.SetError(msg)
	}
	return merged
}

// FromImageResponse converts a Vision annotation into the page, block,
// paragraph and word layout returned to clients.
func FromImageResponse(resp *visionpb.AnnotateImageResponse) *domain.OCRResult {
	result := &domain.OCRResult{StructuredData: []domain.OCRPage{}}
	result.SetError(resp.GetError().GetMessage())

	annotation := resp.GetFullTextAnnotation()
	if annotation == nil {
		return result
	}
	result.FullText = annotation.GetText()

	for _, page := range annotation.GetPages() {
		p := domain.OCRPage{Width: page.GetWidth(), Height: page.GetHeight(), Blocks: []domain.OCRBlock{}}
		for _, block := range page.GetBlocks() {
			b := domain.OCRBlock{Confidence: block.GetConfidence(), Paragraphs: []domain.OCRParagraph{}}
			var blockText strings.Builder
			for _, para := range block.GetParagraphs() {
				pr := domain.OCRParagraph{Confidence: para.GetConfidence(), Words: []domain.OCRWord{}}
				var paraText strings.Builder
				for _, word := range para.GetWords() {
					text := wordText(word)
					paraText.WriteString(text)
					pr.Words = append(pr.Words, domain.OCRWord{
						Text:        text,
						Confidence:  word.GetConfidence(),
						BoundingBox: vertices(word.GetBoundingBox()),
					})
				}
				pr.Text = paraText.String()
				blockText.WriteString(pr.Text)
				b.Paragraphs = append(b.Paragraphs, pr)
			}
			b.Text = blockText.String()
			p.Blocks = append(p.Blocks, b)
		}
		result.StructuredData = append(result.StructuredData, p)
	}
	return result
}

func wordText(word *visionpb.Word) string {
	var b strings.Builder
	for _, s := range word.GetSymbols() {
		b.WriteString(s.GetText())
	}
	return b.String()
}

func vertices(poly *visionpb.BoundingPoly) [][2]int32 {
	out := make([][2]int32, 0, len(poly.GetVertices()))
	for _, v := range poly.GetVertices() {
		out = append(out, [2]int32{v.GetX(), v.GetY()})
	}
	return out
}
