package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordering/internal/domain"
)

func TestIdempotencyRepository_PostgresOrderReplay(t *testing.T) {
	repo := NewIdempotencyRepository(migratedTestStore(t))
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	created, err := repo.CreateProcessing(" pedido-42 ", "hash-order", ttl)
	require.NoError(t, err)
	require.Equal(t, "pedido-42", created.Key)
	require.Equal(t, domain.IdempotencyStatusProcessing, created.Status)
	require.True(t, created.TTLAt.Equal(ttl))

	body := []byte(`{"id":1,"cliente_id":1,"total":85.8}`)
	require.NoError(t, repo.MarkDone("pedido-42", body, 201))

	got, err := repo.Get("pedido-42")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.Equal(t, 201, got.HTTPStatus)
	require.JSONEq(t, string(body), string(got.ResponseBody))

	replay, err := repo.CreateProcessing("pedido-42", "hash-order", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	require.Equal(t, got, replay)

	_, err = repo.CreateProcessing("pedido-42", "hash-other", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestIdempotencyRepository_PostgresFailedResponse(t *testing.T) {
	repo := NewIdempotencyRepository(migratedTestStore(t))

	_, err := repo.CreateProcessing("cliente-dup", "hash", time.Time{})
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed("cliente-dup", []byte(`{"error":"cpf taken","code":"conflict"}`), 409))

	got, err := repo.Get("cliente-dup")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, got.Status)
	require.Equal(t, 409, got.HTTPStatus)
	require.False(t, got.Expired(time.Now().Add(time.Hour)), "zero ttl falls back to the default")

	require.ErrorIs(t, repo.MarkDone("missing", nil, 200), domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get("missing")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
	_, err = repo.Get(" ")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
}

func TestIdempotencyRepository_PostgresDeleteExpiredInBatches(t *testing.T) {
	repo := NewIdempotencyRepository(migratedTestStore(t))
	now := time.Now().UTC()

	for i, key := range []string{"old-1", "old-2", "old-3"} {
		_, err := repo.CreateProcessing(key, "h", now.Add(-time.Duration(5-i)*time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing("alive", "h", now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	_, err = repo.Get("old-3")
	require.NoError(t, err, "the newest expired key is left for the next batch")

	removed, err = repo.DeleteExpired(now, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get("alive")
	require.NoError(t, err)
}

func TestIdempotencyRepository_PostgresExpiredKeyReuse(t *testing.T) {
	repo := NewIdempotencyRepository(migratedTestStore(t))

	_, err := repo.CreateProcessing("produto-1", "old-hash", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.MarkDone("produto-1", []byte(`{"id":1}`), 201))

	record, err := repo.CreateProcessing("produto-1", "new-hash", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, "new-hash", record.RequestHash)
	require.Equal(t, domain.IdempotencyStatusProcessing, record.Status)
	require.Empty(t, record.ResponseBody)
	require.Zero(t, record.HTTPStatus)
}
