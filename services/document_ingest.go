package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"rag-content-pipeline/internal/logger"
	"rag-content-pipeline/internal/telemetry"
	"rag-content-pipeline/models"
)

// 200MB safety cap for in-memory PDF extraction
const maxPDFSize = 200 << 20

// IngestService turns a registered document into indexed chunks: extract
// text, chunk it, embed each chunk, persist. Status transitions are
// pending -> processing -> {completed, failed}.
type IngestService struct {
	chunker   *ChunkerService
	embedder  EmbeddingProvider
	chunks    ChunkStore
	documents DocumentStore
	cache     *ChunkCacheService
	workers   int
}

// NewIngestService creates an ingest service. cache may be nil. workers
// bounds concurrent embedding calls.
func NewIngestService(chunker *ChunkerService, embedder EmbeddingProvider, chunks ChunkStore, documents DocumentStore, cache *ChunkCacheService, workers int) *IngestService {
	if workers <= 0 {
		workers = 4
	}
	return &IngestService{
		chunker:   chunker,
		embedder:  embedder,
		chunks:    chunks,
		documents: documents,
		cache:     cache,
		workers:   workers,
	}
}

// Ingest processes one document end to end. A failure at any stage marks the
// document failed with the reason and returns the error.
func (is *IngestService) Ingest(ctx context.Context, doc *models.Document, cfg models.ChunkingConfig) error {
	tracer := otel.Tracer("ingest")
	ctx, span := tracer.Start(ctx, "ingest.document")
	defer span.End()

	span.SetAttributes(
		attribute.String("document.id", doc.ID.Hex()),
		attribute.String("chunker.strategy", string(cfg.Strategy)),
	)

	doc.Status = models.StatusProcessing
	if err := is.documents.Update(ctx, doc); err != nil {
		return fmt.Errorf("failed to mark document processing: %w", err)
	}

	started := time.Now()
	err := is.ingest(ctx, doc, cfg)
	if err != nil {
		span.SetAttributes(attribute.Bool("ingest.failed", true))
		telemetry.Default().RecordIngest(time.Since(started).Seconds(), models.StatusFailed)
		if markErr := is.documents.MarkFailed(ctx, doc.ID, err.Error()); markErr != nil {
			logger.Error("failed to record ingestion failure", "document_id", doc.ID.Hex(), "error", markErr)
		}
		return err
	}
	telemetry.Default().RecordIngest(time.Since(started).Seconds(), models.StatusCompleted)
	return nil
}

func (is *IngestService) ingest(ctx context.Context, doc *models.Document, cfg models.ChunkingConfig) error {
	text, err := is.extractText(doc)
	if err != nil {
		return fmt.Errorf("text extraction failed: %w", err)
	}

	chunks, err := is.chunker.Split(text, doc.ID.Hex(), cfg)
	if err != nil {
		return fmt.Errorf("chunking failed: %w", err)
	}
	telemetry.Default().RecordChunks(int64(len(chunks)), string(cfg.Strategy))

	embeddings, err := is.embedAll(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}

	// Replace any chunks from a previous ingestion run first, so a strategy
	// change does not leave stale chunks behind.
	if err := is.chunks.DeleteByDocument(ctx, doc.ID.Hex()); err != nil {
		return fmt.Errorf("failed to clear previous chunks: %w", err)
	}
	if err := is.chunks.Persist(ctx, chunks, embeddings, doc.Title, doc.Category); err != nil {
		return err
	}

	if is.cache != nil {
		if err := is.cache.InvalidateQueries(ctx); err != nil {
			logger.Warn("failed to invalidate query cache after ingest", "error", err)
		}
	}

	now := time.Now()
	doc.Status = models.StatusCompleted
	doc.ChunkCount = len(chunks)
	doc.CharCount = len([]rune(text))
	doc.ChunkingUsed = cfg
	doc.ErrorMessage = ""
	doc.ProcessedAt = &now
	if err := is.documents.Update(ctx, doc); err != nil {
		return fmt.Errorf("failed to mark document completed: %w", err)
	}

	logger.Info("document ingested",
		"document_id", doc.ID.Hex(),
		"chunks", len(chunks),
		"chars", doc.CharCount,
		"strategy", string(cfg.Strategy))
	return nil
}

// embedAll embeds chunks concurrently, bounded by the worker limit. Order is
// preserved; any embedding error aborts the whole batch.
func (is *IngestService) embedAll(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	embeddings := make([][]float32, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(is.workers)

	for i, ch := range chunks {
		g.Go(func() error {
			if is.cache != nil {
				if vec, ok := is.cache.GetEmbedding(ctx, ch.Text); ok {
					embeddings[i] = vec
					return nil
				}
			}
			vec, err := is.embedder.Embed(ctx, ch.Text)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", ch.SequenceIndex, err)
			}
			embeddings[i] = vec
			if is.cache != nil {
				is.cache.PutEmbedding(ctx, ch.Text, vec)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// extractText resolves the document's raw text. Inline text wins; otherwise
// the file is read from disk, with PDF extraction for .pdf files.
func (is *IngestService) extractText(doc *models.Document) (string, error) {
	if doc.Text != "" {
		return doc.Text, nil
	}
	if doc.FilePath == "" {
		return "", fmt.Errorf("document has neither inline text nor a file path")
	}

	if strings.EqualFold(filepath.Ext(doc.FilePath), ".pdf") {
		return extractPDFText(doc.FilePath)
	}

	content, err := os.ReadFile(doc.FilePath)
	if err != nil {
		return "", fmt.Errorf("failed to read document file: %w", err)
	}
	return string(content), nil
}

func extractPDFText(filePath string) (string, error) {
	stat, err := os.Stat(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to stat PDF file: %w", err)
	}
	if stat.Size() > maxPDFSize {
		return "", fmt.Errorf("pdf too large for in-memory extraction")
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF file: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var textBuilder strings.Builder
	pages := reader.NumPage()

	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("failed to extract text from page", "page", i, "error", err)
			continue
		}

		textBuilder.WriteString(text)
		textBuilder.WriteString("\n\n")
	}

	extracted := strings.TrimSpace(textBuilder.String())
	if extracted == "" {
		return "", fmt.Errorf("no text extracted from pdf")
	}
	return extracted, nil
}

// Remove deletes a document and all of its indexed chunks.
func (is *IngestService) Remove(ctx context.Context, doc *models.Document) error {
	if err := is.chunks.DeleteByDocument(ctx, doc.ID.Hex()); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := is.documents.Delete(ctx, doc.ID); err != nil {
		return err
	}
	if is.cache != nil {
		if err := is.cache.InvalidateQueries(ctx); err != nil {
			logger.Warn("failed to invalidate query cache after delete", "error", err)
		}
	}
	return nil
}
