package rag

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/singleflight"

	orcherrors "github.com/kandev/personaorch/internal/common/errors"
	"github.com/kandev/personaorch/internal/db"
	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// collectionPrefix is required by some vector back-ends that forbid
// collection names starting with a digit, since a tenant or persona id may
// be numeric.
const collectionPrefix = "u_"

// CollectionName returns the canonical collection name for (tenant,
// persona), e.g. "u_acme_persona_ada_rag".
func CollectionName(tenantID, personaID string) string {
	return collectionPrefix + tenantID + "_persona_" + personaID + "_rag"
}

// legacyCollectionName returns the pre-migration name (no u_ prefix) so
// existing deployments can be detected and migrated forward.
func legacyCollectionName(tenantID, personaID string) string {
	return tenantID + "_persona_" + personaID + "_rag"
}

// chunkID derives a stable, content-addressed id for one chunk so
// re-ingesting the same source is idempotent.
func chunkID(tenantID, personaID, source, chunk string) string {
	sum := sha256.Sum256([]byte(tenantID + ":" + personaID + ":" + source + ":" + chunk))
	return fmt.Sprintf("%x", sum)[:16]
}

// IngestResult reports how many chunks were written and where.
type IngestResult struct {
	Count          int
	CollectionName string
}

// Retriever is the RAG Retriever: per-(tenant, persona) vector storage on
// top of a single SQLite database, with in-process cosine similarity for
// search. The rag_chunks table is created once when the Retriever opens;
// concurrent Ingests for the same (tenant, persona) share one
// legacy-collection migration through singleflight.
type Retriever struct {
	pool     *db.Pool
	embedder Embedder
	inflight singleflight.Group
}

// NewRetriever returns a Retriever storing its collections in the SQLite
// database at path, embedding with embedder.
func NewRetriever(path string, embedder Embedder) (*Retriever, error) {
	writer, err := db.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("rag: open sqlite: %w", err)
	}
	reader, err := db.OpenSQLiteReader(path)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("rag: open sqlite reader: %w", err)
	}

	r := &Retriever{
		pool:     db.NewPool(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3")),
		embedder: embedder,
	}
	if err := r.initSchema(); err != nil {
		_ = r.pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *Retriever) initSchema() error {
	_, err := r.pool.Writer().Exec(`
		CREATE TABLE IF NOT EXISTS rag_chunks (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)
	`)
	if err != nil {
		return err
	}
	_, err = r.pool.Writer().Exec(`
		CREATE INDEX IF NOT EXISTS idx_rag_chunks_collection ON rag_chunks(collection)
	`)
	return err
}

// Ingest chunks text, embeds each chunk, and upserts it into (tenant,
// persona)'s collection. Re-ingesting the same source with identical chunk
// text is a no-op per chunk because chunk ids are content-addressed.
func (r *Retriever) Ingest(ctx context.Context, tenantID, personaID, text, source string) (IngestResult, error) {
	collection := CollectionName(tenantID, personaID)
	_, err, _ := r.inflight.Do(collection, func() (any, error) {
		return nil, r.migrateLegacyCollection(ctx, tenantID, personaID)
	})
	if err != nil {
		return IngestResult{}, orcherrors.Retrieval("migrate legacy collection", err)
	}

	chunks := SplitText(text, 500, 50)
	for _, chunk := range chunks {
		vec, err := r.embedder.Embed(ctx, chunk)
		if err != nil {
			return IngestResult{}, orcherrors.Retrieval("embed chunk", err)
		}
		vecJSON, _ := json.Marshal(vec)

		id := chunkID(tenantID, personaID, source, chunk)
		_, err = r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
			INSERT INTO rag_chunks (id, collection, source, content, embedding, metadata)
			VALUES (?, ?, ?, ?, ?, '{}')
			ON CONFLICT(id) DO UPDATE SET content = excluded.content, embedding = excluded.embedding
		`), id, collection, source, chunk, string(vecJSON))
		if err != nil {
			return IngestResult{}, orcherrors.Retrieval("upsert chunk", err)
		}
	}

	return IngestResult{Count: len(chunks), CollectionName: collection}, nil
}

// scoredDoc pairs a row with its computed similarity for sorting.
type scoredDoc struct {
	doc   v1.KnowledgeDoc
	score float64
}

// Search returns up to topK documents from (tenant, persona)'s collection
// ordered by descending cosine similarity to query.
func (r *Retriever) Search(ctx context.Context, tenantID, personaID, query string, topK int) ([]v1.KnowledgeDoc, error) {
	collection := CollectionName(tenantID, personaID)

	exists, err := r.collectionExists(ctx, collection)
	if err != nil {
		return nil, orcherrors.Retrieval("check collection", err)
	}
	if !exists {
		return nil, orcherrors.NotFound("collection", collection)
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, orcherrors.Retrieval("embed query", err)
	}

	rows, err := r.pool.Reader().QueryContext(ctx, r.pool.Reader().Rebind(`
		SELECT id, content, embedding FROM rag_chunks WHERE collection = ?
	`), collection)
	if err != nil {
		return nil, orcherrors.Retrieval("query chunks", err)
	}
	defer rows.Close()

	var scored []scoredDoc
	for rows.Next() {
		var id, content, embJSON string
		if err := rows.Scan(&id, &content, &embJSON); err != nil {
			return nil, orcherrors.Retrieval("scan chunk", err)
		}
		var vec []float64
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
			continue
		}
		scored = append(scored, scoredDoc{
			doc:   v1.KnowledgeDoc{ID: id, PageContent: content},
			score: CosineSimilarity(queryVec, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, orcherrors.Retrieval("iterate chunks", err)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if topK <= 0 {
		topK = 5
	}
	if topK > len(scored) {
		topK = len(scored)
	}

	out := make([]v1.KnowledgeDoc, topK)
	for i := 0; i < topK; i++ {
		out[i] = scored[i].doc
		out[i].Score = scored[i].score
	}
	return out, nil
}

// DeleteBySource removes every chunk ingested from source in (tenant,
// persona)'s collection.
func (r *Retriever) DeleteBySource(ctx context.Context, tenantID, personaID, source string) error {
	collection := CollectionName(tenantID, personaID)
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		DELETE FROM rag_chunks WHERE collection = ? AND source = ?
	`), collection, source)
	if err != nil {
		return orcherrors.Retrieval("delete by source", err)
	}
	return nil
}

// Drop removes the entire (tenant, persona) collection.
func (r *Retriever) Drop(ctx context.Context, tenantID, personaID string) error {
	collection := CollectionName(tenantID, personaID)
	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		DELETE FROM rag_chunks WHERE collection = ?
	`), collection)
	if err != nil {
		return orcherrors.Retrieval("drop collection", err)
	}
	return nil
}

func (r *Retriever) collectionExists(ctx context.Context, collection string) (bool, error) {
	var count int
	err := r.pool.Reader().GetContext(ctx, &count,
		r.pool.Reader().Rebind(`SELECT COUNT(*) FROM rag_chunks WHERE collection = ?`), collection)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// migrateLegacyCollection copies any rows still stored under the
// pre-migration (no u_ prefix) collection name into the canonical one, then
// removes the legacy rows. Idempotent: a second call finds nothing to move.
func (r *Retriever) migrateLegacyCollection(ctx context.Context, tenantID, personaID string) error {
	legacy := legacyCollectionName(tenantID, personaID)
	canonical := CollectionName(tenantID, personaID)

	_, err := r.pool.Writer().ExecContext(ctx, r.pool.Writer().Rebind(`
		UPDATE rag_chunks SET collection = ? WHERE collection = ?
	`), canonical, legacy)
	return err
}

// Close releases the underlying database connections.
func (r *Retriever) Close() error {
	return r.pool.Close()
}
