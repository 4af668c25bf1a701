package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/BohdanKuzik/MamaSHO/internal/models"
)

// Reserve places or refreshes an advisory hold for (product, holder). The
// hold expires after models.ReservationTTL and never touches product stock;
// the hard guarantee stays with the checkout transaction.
func Reserve(ctx context.Context, db *sql.DB, productID int64, holder string, quantity int) (*models.Reservation, error) {
	reservation := &models.Reservation{}

	query := `
		INSERT INTO reservations (product_id, holder, quantity, created_at, expires_at)
		VALUES ($1, $2, $3, NOW(), NOW() + $4::interval)
		ON CONFLICT (product_id, holder) DO UPDATE
		SET quantity = EXCLUDED.quantity,
		    created_at = NOW(),
		    expires_at = NOW() + $4::interval
		RETURNING id, product_id, holder, quantity, created_at, expires_at`

	ttl := fmt.Sprintf("%d seconds", int(models.ReservationTTL.Seconds()))
	err := db.QueryRowContext(ctx, query, productID, holder, quantity, ttl).Scan(
		&reservation.ID,
		&reservation.ProductID,
		&reservation.Holder,
		&reservation.Quantity,
		&reservation.CreatedAt,
		&reservation.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("reserve product: %w", err)
	}

	return reservation, nil
}

func GetReservation(ctx context.Context, db *sql.DB, productID int64, holder string) (*models.Reservation, error) {
	reservation := &models.Reservation{}

	query := `
		SELECT id, product_id, holder, quantity, created_at, expires_at
		FROM reservations
		WHERE product_id = $1 AND holder = $2 AND expires_at > NOW()`

	err := db.QueryRowContext(ctx, query, productID, holder).Scan(
		&reservation.ID,
		&reservation.ProductID,
		&reservation.Holder,
		&reservation.Quantity,
		&reservation.CreatedAt,
		&reservation.ExpiresAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}

	return reservation, nil
}

// ReleaseHolderReservations drops every hold a holder has, used when their
// basket is cleared or checked out.
func ReleaseHolderReservations(ctx context.Context, db *sql.DB, holder string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM reservations WHERE holder = $1`, holder)
	if err != nil {
		return fmt.Errorf("release holder reservations: %w", err)
	}
	return nil
}

func ReleaseReservation(ctx context.Context, db *sql.DB, productID int64, holder string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM reservations WHERE product_id = $1 AND holder = $2`,
		productID, holder)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}

// GetReservedQuantity sums active holds on a product across all holders.
func GetReservedQuantity(ctx context.Context, db *sql.DB, productID int64) (int, error) {
	var total sql.NullInt64
	err := db.QueryRowContext(ctx,
		`SELECT SUM(quantity) FROM reservations
		 WHERE product_id = $1 AND expires_at > NOW()`,
		productID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("get reserved quantity: %w", err)
	}
	return int(total.Int64), nil
}

func GetReservedByOthers(ctx context.Context, db *sql.DB, productID int64, holder string) (int, error) {
	var total sql.NullInt64
	err := db.QueryRowContext(ctx,
		`SELECT SUM(quantity) FROM reservations
		 WHERE product_id = $1 AND holder <> $2 AND expires_at > NOW()`,
		productID, holder).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("get reserved by others: %w", err)
	}
	return int(total.Int64), nil
}

// CleanupExpiredReservations deletes lapsed holds and returns how many were
// removed. Callers run it before computing availability; it is also wired as
// an operator command.
func CleanupExpiredReservations(ctx context.Context, db *sql.DB) (int64, error) {
	result, err := db.ExecContext(ctx,
		`DELETE FROM reservations WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired reservations: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return removed, nil
}

// AvailableToAdd computes how many more units a holder can put in their
// basket: stock minus holds by other holders minus what the holder already
// has in the basket, floored at zero. The holder's own reservation does not
// count against them.
func AvailableToAdd(ctx context.Context, db *sql.DB, product *models.Product, holder string, basketQuantity int) (int, error) {
	if _, err := CleanupExpiredReservations(ctx, db); err != nil {
		return 0, err
	}

	reservedByOthers, err := GetReservedByOthers(ctx, db, product.ID, holder)
	if err != nil {
		return 0, err
	}

	available := product.Stock - reservedByOthers - basketQuantity
	if available < 0 {
		available = 0
	}
	return available, nil
}
