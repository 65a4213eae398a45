// Package search — полнотекстовый индекс мастер-данных (Bleve).
// Дополняет постраничный поиск каталога: ищет по всей коллекции, а не по текущей странице.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Options настраивает индекс.
// Пустой DataPath — индекс в памяти (перестраивается на старте через Reindex).
type Options struct {
	DataPath string
	Logger   *slog.Logger
}

// Document — единица индексации: вид сущности, её id и текстовые поля.
type Document struct {
	Kind   string
	ID     string
	Fields []string
}

// Hit — найденная сущность.
type Hit struct {
	Kind  string  `json:"kind"`
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Index — потокобезопасная обёртка над bleve.Index.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	logger *slog.Logger
}

// New открывает или создаёт индекс.
func New(opts Options) (*Index, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	if opts.DataPath == "" {
		idx, err := bleve.NewMemOnly(buildMapping())
		if err != nil {
			return nil, fmt.Errorf("create mem index: %w", err)
		}
		return &Index{index: idx, logger: logger}, nil
	}

	path := filepath.Join(opts.DataPath, "catalog.bleve")

	idx, err := bleve.Open(path)
	if err == nil {
		logger.Info("opened existing search index", "path", path)
		return &Index{index: idx, logger: logger}, nil
	}

	logger.Warn("search index not opened, creating", "path", path, "err", err)

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove old index: %w", err)
	}

	idx, err = bleve.New(path, buildMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &Index{index: idx, logger: logger}, nil
}

// buildMapping:
//   - kind — keyword (точная фильтрация по виду);
//   - text — стандартный анализатор (поиск по словам);
//   - raw — keyword в нижнем регистре (подстрочный поиск, как у постраничного поиска).
func buildMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	doc := bleve.NewDocumentMapping()

	kind := bleve.NewTextFieldMapping()
	kind.Analyzer = keyword.Name
	kind.Store = true
	doc.AddFieldMappingsAt("kind", kind)

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	doc.AddFieldMappingsAt("text", text)

	raw := bleve.NewTextFieldMapping()
	raw.Analyzer = keyword.Name
	doc.AddFieldMappingsAt("raw", raw)

	im.DefaultMapping = doc

	return im
}

func docID(kind, id string) string { return kind + "/" + id }

func toMap(d Document) map[string]any {
	text := strings.Join(d.Fields, " ")
	return map[string]any{
		"kind": d.Kind,
		"text": text,
		"raw":  strings.ToLower(text),
	}
}

// Put индексирует (или переиндексирует) документ.
func (i *Index) Put(d Document) error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if err := i.index.Index(docID(d.Kind, d.ID), toMap(d)); err != nil {
		return fmt.Errorf("index %s: %w", docID(d.Kind, d.ID), err)
	}
	return nil
}

// Remove удаляет документ из индекса.
func (i *Index) Remove(kind, id string) error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if err := i.index.Delete(docID(kind, id)); err != nil {
		return fmt.Errorf("delete %s: %w", docID(kind, id), err)
	}
	return nil
}

// Reindex пакетно индексирует документы одного вида.
func (i *Index) Reindex(docs []Document) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	const batchSize = 500

	for start := 0; start < len(docs); start += batchSize {
		end := min(start+batchSize, len(docs))

		batch := i.index.NewBatch()
		for _, d := range docs[start:end] {
			if err := batch.Index(docID(d.Kind, d.ID), toMap(d)); err != nil {
				return fmt.Errorf("batch index: %w", err)
			}
		}

		if err := i.index.Batch(batch); err != nil {
			return fmt.Errorf("batch: %w", err)
		}
	}

	i.logger.Info("search index rebuilt", "documents", len(docs))

	return nil
}

// Search ищет text среди сущностей вида kind по всей коллекции.
func (i *Index) Search(ctx context.Context, kind, text string, limit int) ([]Hit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	if limit <= 0 {
		limit = 20
	}

	match := bleve.NewMatchQuery(text)
	match.SetField("text")
	match.SetBoost(2.0)

	sub := bleve.NewWildcardQuery("*" + stripWildcard(strings.ToLower(text)) + "*")
	sub.SetField("raw")

	kindQ := bleve.NewTermQuery(kind)
	kindQ.SetField("kind")

	q := bleve.NewConjunctionQuery(kindQ, bleve.NewDisjunctionQuery(match, sub))

	i.mu.RLock()
	defer i.mu.RUnlock()

	res, err := i.index.SearchInContext(ctx, bleve.NewSearchRequestOptions(query.Query(q), limit, 0, false))
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		k, id, ok := strings.Cut(h.ID, "/")
		if !ok {
			continue
		}
		hits = append(hits, Hit{Kind: k, ID: id, Score: h.Score})
	}

	return hits, nil
}

// Close закрывает индекс.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.index.Close()
}

// stripWildcard убирает метасимволы шаблона из пользовательского ввода.
func stripWildcard(s string) string {
	return strings.NewReplacer("*", "", "?", "").Replace(s)
}
