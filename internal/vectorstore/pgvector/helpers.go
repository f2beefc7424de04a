package pgvector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// pgxBatch is a thin wrapper over pgx.Batch so callers don't import pgx
// directly.
type pgxBatch struct {
	batch pgx.Batch
}

func (b *pgxBatch) queue(sql string, args ...any) {
	b.batch.Queue(sql, args...)
}

func (s *Store) execBatch(ctx context.Context, b *pgxBatch) error {
	results := s.pool.SendBatch(ctx, &b.batch)
	defer results.Close()
	for i := 0; i < b.batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch item %d: %w", i, err)
		}
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// quoteIdent defends against SQL injection through collection names; only
// the whitelisted character set can pass.
func quoteIdent(name string) string {
	var sb strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
		}
	}
	return `"` + sb.String() + `"`
}

// vectorLiteral renders a float32 slice as the pgvector text literal
// "[v1,v2,...]".
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%g", f)
	}
	sb.WriteByte(']')
	return sb.String()
}
