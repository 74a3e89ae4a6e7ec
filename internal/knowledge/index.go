package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/taskpilot/internal/config"
)

// Result is one search hit.
type Result struct {
	Path    string  `json:"path"`
	Type    string  `json:"type"`
	Content string  `json:"content"`
	Score   float32 `json:"score"`
}

// Index is a per-project semantic index.
type Index struct {
	db         *chromem.DB
	embed      chromem.EmbeddingFunc
	collection string
	limiter    *rate.Limiter
	logger     *zap.Logger
	tracer     trace.Tracer

	mu     sync.Mutex
	hashes map[string]map[string]uint64 // collection -> path -> content hash
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(i *Index) { i.logger = l }
}

// WithTracer records refresh and search spans.
func WithTracer(t trace.Tracer) Option {
	return func(i *Index) { i.tracer = t }
}

// WithEmbeddingFunc replaces the local hashing embedder.
func WithEmbeddingFunc(fn chromem.EmbeddingFunc) Option {
	return func(i *Index) { i.embed = fn }
}

// New returns an in-memory index.
func New(cfg config.KnowledgeConfig, opts ...Option) *Index {
	return newIndex(chromem.NewDB(), cfg, opts)
}

// Open returns an index persisted under dir.
func Open(dir string, cfg config.KnowledgeConfig, opts ...Option) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory %s: %w", dir, err)
	}
	db, err := chromem.NewPersistentDB(dir, true)
	if err != nil {
		return nil, fmt.Errorf("opening index at %s: %w", dir, err)
	}
	return newIndex(db, cfg, opts), nil
}

func newIndex(db *chromem.DB, cfg config.KnowledgeConfig, opts []Option) *Index {
	perMin := cfg.RefreshPerMin
	if perMin <= 0 {
		perMin = 6
	}
	i := &Index{
		db:         db,
		embed:      HashEmbedder{Dimensions: cfg.EmbedDimensions}.Func(),
		collection: cfg.Collection,
		limiter:    rate.NewLimiter(rate.Limit(perMin/60), 1),
		logger:     zap.NewNop(),
		tracer:     noop.NewTracerProvider().Tracer("taskpilot.knowledge"),
		hashes:     make(map[string]map[string]uint64),
	}
	if i.collection == "" {
		i.collection = "project"
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// collectionName scopes the collection to the absolute project root.
func (i *Index) collectionName(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	sum := sha256.Sum256([]byte(abs))
	return i.collection + "-" + hex.EncodeToString(sum[:6])
}

// Refresh re-indexes root. Calls are throttled; a throttled call waits for
// its turn unless ctx is done first.
func (i *Index) Refresh(ctx context.Context, root string, settings config.Config) error {
	if !settings.Knowledge.Enabled {
		return nil
	}
	if err := i.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("index refresh throttled: %w", err)
	}

	ctx, span := i.tracer.Start(ctx, "knowledge.refresh", trace.WithAttributes(attribute.String("root", root)))
	defer span.End()

	i.mu.Lock()
	defer i.mu.Unlock()

	start := time.Now()
	files, err := walk(ctx, root, settings.Knowledge.MaxFileBytes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "walk failed")
		return fmt.Errorf("walking %s: %w", root, err)
	}

	name := i.collectionName(root)
	col, err := i.db.GetOrCreateCollection(name, map[string]string{"root": root}, i.embed)
	if err != nil {
		return fmt.Errorf("opening collection %s: %w", name, err)
	}
	known := i.hashes[name]
	if known == nil {
		known = make(map[string]uint64)
		i.hashes[name] = known
	}

	seen := make(map[string]bool, len(files))
	var docs []chromem.Document
	for _, f := range files {
		seen[f.rel] = true
		h := xxhash.Sum64String(f.content)
		if prev, ok := known[f.rel]; ok && prev == h {
			continue
		}
		known[f.rel] = h
		docs = append(docs, chromem.Document{
			ID:       f.rel,
			Content:  f.content,
			Metadata: map[string]string{"type": f.kind, "path": f.rel},
		})
	}
	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, 1); err != nil {
			return fmt.Errorf("indexing documents: %w", err)
		}
	}

	removed := 0
	for path := range known {
		if seen[path] {
			continue
		}
		if err := col.Delete(ctx, nil, nil, path); err != nil {
			i.logger.Warn("failed to remove stale document", zap.String("path", path), zap.Error(err))
			continue
		}
		delete(known, path)
		removed++
	}

	span.SetAttributes(attribute.Int("indexed", len(docs)), attribute.Int("removed", removed))
	i.logger.Debug("index refreshed",
		zap.String("root", root),
		zap.Int("files", len(files)),
		zap.Int("indexed", len(docs)),
		zap.Int("removed", removed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Search returns up to limit documents of root similar to query. An empty
// typeFilter matches every type.
func (i *Index) Search(ctx context.Context, query string, limit int, typeFilter, root string) ([]Result, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}
	ctx, span := i.tracer.Start(ctx, "knowledge.search", trace.WithAttributes(
		attribute.Int("limit", limit),
		attribute.String("type", typeFilter),
	))
	defer span.End()

	col := i.db.GetCollection(i.collectionName(root), i.embed)
	if col == nil || col.Count() == 0 {
		return []Result{}, nil
	}
	var where map[string]string
	if typeFilter != "" {
		where = map[string]string{"type": typeFilter}
	}
	if limit > col.Count() {
		limit = col.Count()
	}

	hits, err := col.Query(ctx, query, limit, where, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying index: %w", err)
	}
	results := make([]Result, len(hits))
	for n, h := range hits {
		results[n] = Result{Path: h.Metadata["path"], Type: h.Metadata["type"], Content: h.Content, Score: h.Similarity}
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}
