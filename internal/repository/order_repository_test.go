package repository

import (
	"context"
	"errors"
	"os"
	"testing"

	"deliverybot/internal/entities"
	"deliverybot/internal/infrastructure"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int64) = r.values[0].(int64)
	*dest[1].(*string) = r.values[1].(string)
	return nil
}

type fakeDB struct {
	row      fakeRow
	tag      pgconn.CommandTag
	execErr  error
	execArgs []any
	sql      string
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = sql
	f.execArgs = args
	return f.tag, f.execErr
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	f.sql = sql
	return f.row
}

func TestOrderRepositoryFind(t *testing.T) {
	db := &fakeDB{row: fakeRow{values: []any{int64(42), "12345"}}}
	repo := NewOrderRepository(db)

	order, found, err := repo.FindOrderByNumber(context.Background(), "12345")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, entities.Order{ID: "42", OrderNumber: "12345"}, order)
}

func TestOrderRepositoryFindMissing(t *testing.T) {
	repo := NewOrderRepository(&fakeDB{row: fakeRow{err: pgx.ErrNoRows}})

	_, found, err := repo.FindOrderByNumber(context.Background(), "1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOrderRepositoryFindError(t *testing.T) {
	repo := NewOrderRepository(&fakeDB{row: fakeRow{err: errors.New("conn closed")}})

	_, _, err := repo.FindOrderByNumber(context.Background(), "1")
	require.Error(t, err)
	assert.True(t, entities.HasTextCode(err, entities.ErrorCRMCall))
}

func TestOrderRepositoryUpdate(t *testing.T) {
	db := &fakeDB{tag: pgconn.NewCommandTag("UPDATE 1")}
	repo := NewOrderRepository(db)

	update := entities.NewOrderDeliveryUpdate("Left at door", "")
	require.NoError(t, repo.UpdateOrderDelivery(context.Background(), "42", update))
	require.Len(t, db.execArgs, 4)
	assert.Equal(t, int64(42), db.execArgs[0])
	assert.Equal(t, entities.OrderStatusDelivered, db.execArgs[1])
	assert.Equal(t, update.Description, db.execArgs[2])
	assert.Nil(t, db.execArgs[3])
}

func TestOrderRepositoryUpdateFailures(t *testing.T) {
	repo := NewOrderRepository(&fakeDB{tag: pgconn.NewCommandTag("UPDATE 0")})
	err := repo.UpdateOrderDelivery(context.Background(), "42", entities.NewOrderDeliveryUpdate("", ""))
	assert.True(t, entities.HasTextCode(err, entities.ErrorOrderNotFound))

	err = repo.UpdateOrderDelivery(context.Background(), "801xx", entities.NewOrderDeliveryUpdate("", ""))
	assert.True(t, entities.HasTextCode(err, entities.ErrorCRMCall))
}

func TestOrderRepositoryPostgres(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()

	client, err := infrastructure.NewPostgresClient(ctx, dsn, true, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Pool.Exec(ctx, `
		INSERT INTO orders (order_number) VALUES ('900001')
		ON CONFLICT (order_number) DO UPDATE SET status = 'Draft'
	`)
	require.NoError(t, err)

	repo := NewOrderRepository(client.Pool)
	order, found, err := repo.FindOrderByNumber(ctx, "900001")
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, repo.UpdateOrderDelivery(ctx, order.ID, entities.NewOrderDeliveryUpdate("notes", "Dock 2")))

	var status, location string
	require.NoError(t, client.Pool.QueryRow(ctx,
		"SELECT status, shipping_location FROM orders WHERE order_number = $1", order.OrderNumber).Scan(&status, &location))
	assert.Equal(t, entities.OrderStatusDelivered, status)
	assert.Equal(t, "Dock 2", location)
}
