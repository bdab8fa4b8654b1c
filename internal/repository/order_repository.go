package repository

import (
	"context"
	"errors"
	"strconv"

	"deliverybot/internal/entities"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of *pgxpool.Pool the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OrderRepository implements interfaces.OrderStore on a Postgres orders
// table.
type OrderRepository struct {
	db DBTX
}

func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) FindOrderByNumber(ctx context.Context, orderNumber string) (entities.Order, bool, error) {
	var (
		id    int64
		order entities.Order
	)
	err := r.db.QueryRow(ctx,
		"SELECT id, order_number FROM orders WHERE order_number = $1 LIMIT 1",
		orderNumber).Scan(&id, &order.OrderNumber)

	if errors.Is(err, pgx.ErrNoRows) {
		return entities.Order{}, false, nil
	}
	if err != nil {
		return entities.Order{}, false, entities.CRMCallError(err, "query order", map[string]any{"order_number": orderNumber})
	}
	order.ID = strconv.FormatInt(id, 10)
	return order, true, nil
}

func (r *OrderRepository) UpdateOrderDelivery(ctx context.Context, orderID string, update entities.OrderDeliveryUpdate) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return entities.CRMCallError(err, "order id is not numeric", map[string]any{"order_id": orderID})
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET status = $2, description = $3, shipping_location = $4, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`, id, update.Status, update.Description, update.ShippingLocation)
	if err != nil {
		return entities.CRMCallError(err, "update order", map[string]any{"order_id": orderID})
	}
	if tag.RowsAffected() == 0 {
		return entities.OrderNotFoundError(orderID)
	}
	return nil
}
