package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/BohdanKuzik/MamaSHO/internal/models"
)

// BasketLine pairs a basket quantity with the product row it points at.
// Prices are read at query time, not frozen into the basket.
type BasketLine struct {
	Product  models.Product
	Quantity int
}

func GetOrCreateBasket(ctx context.Context, db *sql.DB, customerID int64) (*models.Basket, error) {
	basket := &models.Basket{}

	query := `
		INSERT INTO baskets (customer_id, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (customer_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, customer_id, created_at, updated_at`

	err := db.QueryRowContext(ctx, query, customerID).Scan(
		&basket.ID,
		&basket.CustomerID,
		&basket.CreatedAt,
		&basket.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get or create basket: %w", err)
	}

	return basket, nil
}

// GetBasketLineQuantity returns 0 when the product is not in the basket.
func GetBasketLineQuantity(ctx context.Context, db *sql.DB, basketID, productID int64) (int, error) {
	var quantity int
	err := db.QueryRowContext(ctx,
		`SELECT quantity FROM basket_items WHERE basket_id = $1 AND product_id = $2`,
		basketID, productID).Scan(&quantity)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("get basket line: %w", err)
	}
	return quantity, nil
}

func SetBasketLine(ctx context.Context, db *sql.DB, basketID, productID int64, quantity int) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO basket_items (basket_id, product_id, quantity)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (basket_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		basketID, productID, quantity)
	if err != nil {
		return fmt.Errorf("set basket line: %w", err)
	}
	return nil
}

// DeleteBasketLine is idempotent: removing an absent line is not an error.
func DeleteBasketLine(ctx context.Context, db *sql.DB, basketID, productID int64) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM basket_items WHERE basket_id = $1 AND product_id = $2`,
		basketID, productID)
	if err != nil {
		return fmt.Errorf("delete basket line: %w", err)
	}
	return nil
}

func ListBasketLines(ctx context.Context, db *sql.DB, basketID int64) ([]BasketLine, error) {
	query := `
		SELECT p.id, p.sku, p.name, p.description, p.price, p.stock, p.available,
		       p.created_at, p.updated_at, p.version, bi.quantity
		FROM basket_items bi
		JOIN products p ON p.id = bi.product_id
		WHERE bi.basket_id = $1
		ORDER BY bi.id`

	rows, err := db.QueryContext(ctx, query, basketID)
	if err != nil {
		return nil, fmt.Errorf("list basket lines: %w", err)
	}
	defer rows.Close()

	var lines []BasketLine
	for rows.Next() {
		var line BasketLine
		err := rows.Scan(
			&line.Product.ID,
			&line.Product.SKU,
			&line.Product.Name,
			&line.Product.Description,
			&line.Product.Price,
			&line.Product.Stock,
			&line.Product.Available,
			&line.Product.CreatedAt,
			&line.Product.UpdatedAt,
			&line.Product.Version,
			&line.Quantity,
		)
		if err != nil {
			return nil, fmt.Errorf("scan basket line: %w", err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}

// BasketTotalQuantity sums quantities across lines, not the line count.
func BasketTotalQuantity(ctx context.Context, db *sql.DB, basketID int64) (int, error) {
	var total sql.NullInt64
	err := db.QueryRowContext(ctx,
		`SELECT SUM(quantity) FROM basket_items WHERE basket_id = $1`,
		basketID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("basket total quantity: %w", err)
	}
	return int(total.Int64), nil
}

func ClearBasket(ctx context.Context, db *sql.DB, basketID int64) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM basket_items WHERE basket_id = $1`, basketID)
	if err != nil {
		return fmt.Errorf("clear basket: %w", err)
	}
	return nil
}
