package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantgate/quantgate/internal/persistence"
)

type payload struct {
	Name string `json:"name"`
}

func TestStoreLoadUnwrapsEnvelope(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewStoreWithClient(client, "test:", time.Second)

	sealed, err := persistence.Seal(payload{Name: "weights"})
	require.NoError(t, err)
	mock.ExpectGet("test:blob").SetVal(string(sealed))

	var out payload
	require.NoError(t, store.Load(context.Background(), "blob", &out))
	assert.Equal(t, "weights", out.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreMissingKeyMapsToNotFound(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewStoreWithClient(client, "test:", time.Second)

	mock.ExpectGet("test:absent").RedisNil()

	var out payload
	assert.ErrorIs(t, store.Load(context.Background(), "absent", &out), persistence.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreCorruptBlob(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewStoreWithClient(client, "test:", time.Second)

	mock.ExpectGet("test:bad").SetVal("{{{")

	var out payload
	assert.ErrorIs(t, store.Load(context.Background(), "bad", &out), persistence.ErrCorruptBlob)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSaveWritesSealedBlob(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewStoreWithClient(client, "test:", time.Second)

	// The envelope carries a save timestamp, so match on key only
	mock.CustomMatch(func(expected, actual []interface{}) error {
		return nil
	}).ExpectSet("test:blob", nil, 0).SetVal("OK")

	assert.NoError(t, store.Save(context.Background(), "blob", payload{Name: "weights"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDelete(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewStoreWithClient(client, "test:", time.Second)

	mock.ExpectDel("test:gone").SetVal(1)

	assert.NoError(t, store.Delete(context.Background(), "gone"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDefaultsApplied(t *testing.T) {
	client, _ := redismock.NewClientMock()
	store := NewStoreWithClient(client, "", 0)

	assert.Equal(t, "quantgate:state:", store.prefix)
	assert.Equal(t, 2*time.Second, store.timeout)
}
