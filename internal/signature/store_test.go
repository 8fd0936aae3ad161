package signature

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStore(mock, time.Second), mock
}

func TestCompare_FirstInvocationIsChanged(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("SELECT value FROM flowgate.content_signatures").
		WithArgs("raw_events", "scope-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO flowgate.content_signatures").
		WithArgs("raw_events", "scope-1", "sig-a").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	res, err := s.Compare(context.Background(), "raw_events", "scope-1", "sig-a")
	require.NoError(t, err)
	assert.Equal(t, Changed, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompare_UnchangedSkipsWrite(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("SELECT value FROM flowgate.content_signatures").
		WithArgs("raw_events", "scope-1").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("sig-a"))

	res, err := s.Compare(context.Background(), "raw_events", "scope-1", "sig-a")
	require.NoError(t, err)
	assert.Equal(t, Unchanged, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompare_DifferentValueStoresAndReturnsChanged(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("SELECT value FROM flowgate.content_signatures").
		WithArgs("raw_events", "scope-1").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("sig-old"))
	mock.ExpectExec("INSERT INTO flowgate.content_signatures").
		WithArgs("raw_events", "scope-1", "sig-new").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	res, err := s.Compare(context.Background(), "raw_events", "scope-1", "sig-new")
	require.NoError(t, err)
	assert.Equal(t, Changed, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompare_ReadFailureFailsTowardChanged(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery("SELECT value FROM flowgate.content_signatures").
		WillReturnError(assert.AnError)

	res, err := s.Compare(context.Background(), "raw_events", "scope-1", "sig-a")
	require.NoError(t, err)
	assert.Equal(t, Changed, res)
}

func TestCompare_EmptySignatureRejected(t *testing.T) {
	s, _ := newTestStore(t)
	res, err := s.Compare(context.Background(), "raw_events", "scope-1", "")
	assert.Error(t, err)
	assert.Equal(t, Changed, res)
}

func TestDigest_DeterministicAndSeparated(t *testing.T) {
	assert.Equal(t, Digest("a", "b"), Digest("a", "b"))
	assert.NotEqual(t, Digest("ab", "c"), Digest("a", "bc"))
	assert.NotEqual(t, Digest("a"), Digest("a", ""))
	assert.Len(t, Digest("x"), 64)
}
