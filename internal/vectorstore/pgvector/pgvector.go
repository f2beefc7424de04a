// Package pgvector implements vectorstore.Store against PostgreSQL with
// the pgvector extension, using github.com/jackc/pgx/v5. The pool wiring
// (health-checked, reconnecting) follows this codebase's own Postgres
// connection pool.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indexforge/ingestcore/internal/chunk"
	"github.com/indexforge/ingestcore/internal/coreerrors"
	"github.com/indexforge/ingestcore/internal/vectorstore"
)

// Store is a pgvector-backed vectorstore.Store. Each "collection" in the
// contract maps to a Postgres table of the same name with columns
// (id uuid primary key, embedding vector, object jsonb, doc_type text).
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pgxpool.Pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool against dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector: ping: %w", err)
	}
	return New(pool), nil
}

var _ vectorstore.Store = (*Store)(nil)

func (s *Store) Create(ctx context.Context, collection string, obj map[string]any, id *string) (string, error) {
	objJSON, err := json.Marshal(obj)
	if err != nil {
		return "", coreerrors.NewVectorStoreError("create", err)
	}

	var generatedID string
	query := fmt.Sprintf(`INSERT INTO %s (id, object) VALUES (COALESCE($1, gen_random_uuid()), $2) RETURNING id`, quoteIdent(collection))
	if err := s.pool.QueryRow(ctx, query, id, objJSON).Scan(&generatedID); err != nil {
		return "", coreerrors.NewVectorStoreError("create", err)
	}
	return generatedID, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (map[string]any, bool, error) {
	var objJSON []byte
	query := fmt.Sprintf(`SELECT object FROM %s WHERE id = $1`, quoteIdent(collection))
	err := s.pool.QueryRow(ctx, query, id).Scan(&objJSON)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, coreerrors.NewVectorStoreError("get", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(objJSON, &obj); err != nil {
		return nil, false, coreerrors.NewVectorStoreError("get", err)
	}
	return obj, true, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, obj map[string]any) (bool, error) {
	objJSON, err := json.Marshal(obj)
	if err != nil {
		return false, coreerrors.NewVectorStoreError("update", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET object = $2 WHERE id = $1`, quoteIdent(collection))
	tag, err := s.pool.Exec(ctx, query, id, objJSON)
	if err != nil {
		return false, coreerrors.NewVectorStoreError("update", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, quoteIdent(collection))
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, coreerrors.NewVectorStoreError("delete", err)
	}
	return tag.RowsAffected() > 0, nil
}

// BatchInsert writes items in chunks of size (dynamic is accepted for
// interface symmetry with the in-memory test doubles but pgvector commits
// each chunk in one round trip regardless) and verifies every row landed,
// surfacing a not-found-after-write outcome per the batch protocol.
func (s *Store) BatchInsert(ctx context.Context, collection string, items []vectorstore.BatchObject, size int, dynamic bool) ([]chunk.ItemOutcome, error) {
	if size <= 0 {
		size = len(items)
	}
	outcomes := make([]chunk.ItemOutcome, 0, len(items))

	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		group := items[start:end]

		batch := &pgxBatch{}
		query := fmt.Sprintf(`INSERT INTO %s (id, embedding, object) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, object = EXCLUDED.object`, quoteIdent(collection))
		for _, item := range group {
			objJSON, err := json.Marshal(item.Object)
			if err != nil {
				outcomes = append(outcomes, chunk.ItemOutcome{ID: item.ID, Success: false, Err: err})
				continue
			}
			batch.queue(query, item.ID, vectorLiteral(item.Vector), objJSON)
		}

		if err := s.execBatch(ctx, batch); err != nil {
			return outcomes, coreerrors.NewVectorStoreError("batch_insert", err)
		}

		for _, item := range group {
			_, found, err := s.Get(ctx, collection, item.ID)
			if err != nil {
				outcomes = append(outcomes, chunk.ItemOutcome{ID: item.ID, Success: false, Err: err})
				continue
			}
			if !found {
				outcomes = append(outcomes, chunk.ItemOutcome{ID: item.ID, Success: false, Err: coreerrors.NewNotFoundAfterWriteError(item.ID)})
				continue
			}
			outcomes = append(outcomes, chunk.ItemOutcome{ID: item.ID, Success: true})
		}
	}

	return outcomes, nil
}

func (s *Store) BatchDelete(ctx context.Context, collection string, ids []string, size int) ([]chunk.ItemOutcome, error) {
	outcomes := make([]chunk.ItemOutcome, 0, len(ids))
	for _, id := range ids {
		deleted, err := s.Delete(ctx, collection, id)
		outcomes = append(outcomes, chunk.ItemOutcome{ID: id, Success: deleted, Err: err})
	}
	return outcomes, nil
}

func (s *Store) Search(ctx context.Context, collection string, query vectorstore.Query, limit int, cursor *string) (vectorstore.SearchResult, error) {
	sql := fmt.Sprintf(`SELECT id, object FROM %s ORDER BY embedding <-> $1 LIMIT $2`, quoteIdent(collection))
	rows, err := s.pool.Query(ctx, sql, vectorLiteral(query.Vector), limit)
	if err != nil {
		return vectorstore.SearchResult{}, coreerrors.NewVectorStoreError("search", err)
	}
	defer rows.Close()

	var hits []map[string]any
	for rows.Next() {
		var id string
		var objJSON []byte
		if err := rows.Scan(&id, &objJSON); err != nil {
			return vectorstore.SearchResult{}, coreerrors.NewVectorStoreError("search", err)
		}
		var obj map[string]any
		if err := json.Unmarshal(objJSON, &obj); err != nil {
			return vectorstore.SearchResult{}, coreerrors.NewVectorStoreError("search", err)
		}
		obj["id"] = id
		hits = append(hits, obj)
	}
	return vectorstore.SearchResult{Hits: hits}, rows.Err()
}

func (s *Store) Stats(ctx context.Context, collection string) (chunk.DocumentStats, error) {
	var count int
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, quoteIdent(collection))
	if err := s.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return chunk.DocumentStats{}, coreerrors.NewVectorStoreError("stats", err)
	}
	return chunk.DocumentStats{Count: count, Status: "ok"}, nil
}

func (s *Store) HealthCheck(ctx context.Context) bool {
	return s.pool.Ping(ctx) == nil
}

func (s *Store) Close() {
	s.pool.Close()
}
