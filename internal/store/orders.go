package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/BohdanKuzik/MamaSHO/internal/database"
	"github.com/BohdanKuzik/MamaSHO/internal/models"
)

type CheckoutRequest struct {
	CustomerID      int64
	DeliveryName    string
	DeliveryPhone   string
	DeliveryAddress string
	PaymentMethod   string
	Lines           []BasketLine
}

func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%d", time.Now().UnixNano())
}

// Checkout converts a basket snapshot into an order inside one serializable
// transaction. The total is snapshotted before line processing and stays the
// authoritative historical amount for the order. Stock is re-checked line by
// line at commit time; any shortfall aborts the whole transaction with the
// exact deficit, leaving no order row and stock untouched.
func Checkout(ctx context.Context, db *sql.DB, req CheckoutRequest) (*models.Order, error) {
	if len(req.Lines) == 0 {
		return nil, database.ErrEmptyBasket
	}

	var order *models.Order

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		totalPrice := decimal.Zero
		for _, line := range req.Lines {
			totalPrice = totalPrice.Add(line.Product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}

		orderNumber := generateOrderNumber()
		var orderID int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO orders (customer_id, order_number, status, total_price,
			                     delivery_name, delivery_phone, delivery_address,
			                     payment_method, payment_status,
			                     created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW(), 1)
			 RETURNING id`,
			req.CustomerID, orderNumber, models.OrderStatusPending, totalPrice,
			req.DeliveryName, req.DeliveryPhone, req.DeliveryAddress,
			req.PaymentMethod, models.PaymentStatusPending).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, line := range req.Lines {
			product, err := LockProduct(ctx, tx, line.Product.ID)
			if err != nil {
				return err
			}

			if line.Quantity > product.Stock {
				return &database.InsufficientStockError{
					ProductID:   product.ID,
					ProductName: product.Name,
					Requested:   line.Quantity,
					Available:   product.Stock,
				}
			}

			unitPrice := product.Price
			subtotal := unitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal, created_at)
				 VALUES ($1, $2, $3, $4, $5, NOW())`,
				orderID, product.ID, line.Quantity, unitPrice, subtotal)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}

			if err := DecrementStock(ctx, tx, product.ID, line.Quantity); err != nil {
				return err
			}
		}

		order = &models.Order{ID: orderID}
		err = tx.QueryRowContext(ctx,
			`SELECT customer_id, order_number, status, total_price,
			        delivery_name, delivery_phone, delivery_address,
			        payment_method, payment_status, payment_reference, paid_at,
			        created_at, updated_at, version
			 FROM orders WHERE id = $1`,
			orderID).Scan(
			&order.CustomerID,
			&order.OrderNumber,
			&order.Status,
			&order.TotalPrice,
			&order.DeliveryName,
			&order.DeliveryPhone,
			&order.DeliveryAddress,
			&order.PaymentMethod,
			&order.PaymentStatus,
			&order.PaymentRef,
			&order.PaidAt,
			&order.CreatedAt,
			&order.UpdatedAt,
			&order.Version,
		)
		if err != nil {
			return fmt.Errorf("fetch created order: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return order, nil
}

func scanOrderRow(row interface{ Scan(...any) error }) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.CustomerID,
		&order.OrderNumber,
		&order.Status,
		&order.TotalPrice,
		&order.DeliveryName,
		&order.DeliveryPhone,
		&order.DeliveryAddress,
		&order.PaymentMethod,
		&order.PaymentStatus,
		&order.PaymentRef,
		&order.PaidAt,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

const orderColumns = `id, customer_id, order_number, status, total_price,
	delivery_name, delivery_phone, delivery_address,
	payment_method, payment_status, payment_reference, paid_at,
	created_at, updated_at, version`

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order, err := scanOrderRow(db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := listOrderItems(ctx, db, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

// GetCustomerOrder scopes the lookup to one customer so a customer cannot
// read another customer's order.
func GetCustomerOrder(ctx context.Context, db *sql.DB, customerID, orderID int64) (*models.Order, error) {
	order, err := scanOrderRow(db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND customer_id = $2`,
		orderID, customerID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get customer order: %w", err)
	}

	items, err := listOrderItems(ctx, db, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func listOrderItems(ctx context.Context, db *sql.DB, orderID int64) ([]models.OrderItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// CancelOrder restores each item's stock and marks the order cancelled in
// one short transaction. Only pending and processing orders can be
// cancelled; anything else fails without mutating the order.
func CancelOrder(ctx context.Context, db *sql.DB, orderID int64) error {
	return database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&status)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if !models.CanBeCancelled(status) {
			return database.ErrInvalidStateTransition
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT product_id, quantity FROM order_items WHERE order_id = $1`, orderID)
		if err != nil {
			return fmt.Errorf("get order items: %w", err)
		}
		defer rows.Close()

		type restore struct {
			productID int64
			quantity  int
		}
		var restores []restore
		for rows.Next() {
			var r restore
			if err := rows.Scan(&r.productID, &r.quantity); err != nil {
				return fmt.Errorf("scan order item: %w", err)
			}
			restores = append(restores, r)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("rows error: %w", err)
		}

		for _, r := range restores {
			if err := RestoreStock(ctx, tx, r.productID, r.quantity); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = $1, updated_at = NOW(), version = version + 1
			 WHERE id = $2`,
			models.OrderStatusCancelled, orderID)
		if err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}

		return nil
	})
}

// UpdateOrderStatus moves an order between fulfillment states. The caller
// names both ends of the transition explicitly; a stale "from" value means
// someone else moved the order first and the update fails.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, orderID int64, from, to string) error {
	if !models.CanTransition(from, to) {
		return database.ErrInvalidStateTransition
	}

	result, err := db.ExecContext(ctx,
		`UPDATE orders
		 SET status = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2 AND status = $3`,
		to, orderID, from)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrInvalidStateTransition
	}

	return nil
}

// MarkOrderPaid flips payment_status to paid exactly once. The conditional
// update makes duplicate gateway callbacks a no-op; the boolean reports
// whether this call performed the transition.
func MarkOrderPaid(ctx context.Context, db *sql.DB, orderID int64) (bool, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE orders
		 SET payment_status = $1, paid_at = NOW(), updated_at = NOW(), version = version + 1
		 WHERE id = $2 AND payment_status <> $1`,
		models.PaymentStatusPaid, orderID)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// SetOrderPaymentReference records the reference sent to the gateway so a
// later status check can name the same transaction. Each payment attempt
// overwrites the previous reference.
func SetOrderPaymentReference(ctx context.Context, db *sql.DB, orderID int64, reference string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE orders SET payment_reference = $1, updated_at = NOW() WHERE id = $2`,
		reference, orderID)
	if err != nil {
		return fmt.Errorf("set order payment reference: %w", err)
	}
	return nil
}

func MarkOrderPaymentFailed(ctx context.Context, db *sql.DB, orderID int64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE orders
		 SET payment_status = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2 AND payment_status <> $3`,
		models.PaymentStatusFailed, orderID, models.PaymentStatusPaid)
	if err != nil {
		return fmt.Errorf("mark order payment failed: %w", err)
	}
	return nil
}

func ListOrdersCursor(ctx context.Context, db *sql.DB, customerID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, customerID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
