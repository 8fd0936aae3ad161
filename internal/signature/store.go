// Package signature detects content-level change: it persists the last
// content signature per (source, scope_key) and reports whether a newly
// computed signature differs. Signatures are derived, advisory state.
// Last-writer-wins on concurrent updates is acceptable because a lost write
// at worst causes one redundant run, never a missed one.
package signature

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/flowgate/internal/db"
)

// Result of a signature comparison.
type Result string

const (
	Changed   Result = "changed"
	Unchanged Result = "unchanged"
)

// Store persists content signatures in Postgres.
type Store struct {
	pool    db.Pool
	timeout time.Duration
}

// NewStore creates a signature store. timeout bounds each round trip.
func NewStore(pool db.Pool, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{pool: pool, timeout: timeout}
}

// Compare checks newSig against the stored signature for (source, scopeKey).
// Equal values return Unchanged and write nothing. A first-ever scope key or
// a differing value stores newSig and returns Changed. A store that cannot
// be reached fails toward Changed: redoing cheap idempotent work is safer
// than skipping needed work.
func (s *Store) Compare(ctx context.Context, source, scopeKey, newSig string) (Result, error) {
	if newSig == "" {
		return Changed, eris.New("signature: empty signature value")
	}

	qctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var prev string
	err := s.pool.QueryRow(qctx,
		`SELECT value FROM flowgate.content_signatures WHERE source = $1 AND scope_key = $2`,
		source, scopeKey,
	).Scan(&prev)
	switch {
	case err == nil:
		if prev == newSig {
			return Unchanged, nil
		}
	case eris.Is(err, pgx.ErrNoRows):
		// First invocation for this scope key: always Changed.
	default:
		zap.L().Warn("signature read failed, treating as changed",
			zap.String("component", "signature"),
			zap.String("scope_key", scopeKey),
			zap.Error(err),
		)
		return Changed, nil
	}

	if _, err := s.pool.Exec(qctx,
		`INSERT INTO flowgate.content_signatures (source, scope_key, value, computed_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (source, scope_key) DO UPDATE SET value = EXCLUDED.value, computed_at = now()`,
		source, scopeKey, newSig,
	); err != nil {
		zap.L().Warn("signature write failed, treating as changed",
			zap.String("component", "signature"),
			zap.String("scope_key", scopeKey),
			zap.Error(err),
		)
	}
	return Changed, nil
}

// Digest computes a deterministic signature over the given parts. Callers
// pass the relevant upstream row content in a stable order.
func Digest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0}) // separator so ("ab","c") != ("a","bc")
	}
	return hex.EncodeToString(h.Sum(nil))
}
