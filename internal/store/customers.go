package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/BohdanKuzik/MamaSHO/internal/database"
	"github.com/BohdanKuzik/MamaSHO/internal/models"
)

// GetOrCreateCustomer resolves the customer row for an externally
// authenticated user, creating it on first contact. Conflicting concurrent
// inserts fall through to the existing row.
func GetOrCreateCustomer(ctx context.Context, db *sql.DB, userID int64, email, name string) (*models.Customer, error) {
	customer := &models.Customer{}

	query := `
		INSERT INTO customers (user_id, email, name, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, email, name, COALESCE(phone, ''), COALESCE(address, ''), created_at`

	err := db.QueryRowContext(ctx, query, userID, email, name).Scan(
		&customer.ID,
		&customer.UserID,
		&customer.Email,
		&customer.Name,
		&customer.Phone,
		&customer.Address,
		&customer.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get or create customer: %w", err)
	}

	return customer, nil
}

func GetCustomerByUserID(ctx context.Context, db *sql.DB, userID int64) (*models.Customer, error) {
	customer := &models.Customer{}

	query := `
		SELECT id, user_id, email, name, COALESCE(phone, ''), COALESCE(address, ''), created_at
		FROM customers
		WHERE user_id = $1`

	err := db.QueryRowContext(ctx, query, userID).Scan(
		&customer.ID,
		&customer.UserID,
		&customer.Email,
		&customer.Name,
		&customer.Phone,
		&customer.Address,
		&customer.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}

	return customer, nil
}

func GetCustomerByID(ctx context.Context, db *sql.DB, id int64) (*models.Customer, error) {
	customer := &models.Customer{}

	query := `
		SELECT id, user_id, email, name, COALESCE(phone, ''), COALESCE(address, ''), created_at
		FROM customers
		WHERE id = $1`

	err := db.QueryRowContext(ctx, query, id).Scan(
		&customer.ID,
		&customer.UserID,
		&customer.Email,
		&customer.Name,
		&customer.Phone,
		&customer.Address,
		&customer.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCustomerNotFound
		}
		return nil, fmt.Errorf("get customer by id: %w", err)
	}

	return customer, nil
}

func UpdateCustomerContact(ctx context.Context, db *sql.DB, customerID int64, phone, address string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE customers SET phone = $1, address = $2 WHERE id = $3`,
		phone, address, customerID)
	if err != nil {
		return fmt.Errorf("update customer contact: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrCustomerNotFound
	}

	return nil
}
