package basket

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/BohdanKuzik/MamaSHO/internal/models"
	"github.com/BohdanKuzik/MamaSHO/internal/store"
)

// Stored is the persisted basket of an authenticated customer, one row per
// (basket, product) line in Postgres.
type Stored struct {
	db     *sql.DB
	basket *models.Basket
}

func NewStored(ctx context.Context, db *sql.DB, customerID int64) (*Stored, error) {
	b, err := store.GetOrCreateBasket(ctx, db, customerID)
	if err != nil {
		return nil, fmt.Errorf("open stored basket: %w", err)
	}
	return &Stored{db: db, basket: b}, nil
}

func (s *Stored) ID() int64 {
	return s.basket.ID
}

func (s *Stored) Add(ctx context.Context, product *models.Product, quantity int, updateQuantity bool) error {
	current, err := store.GetBasketLineQuantity(ctx, s.db, s.basket.ID, product.ID)
	if err != nil {
		return err
	}

	next := quantity
	if !updateQuantity {
		next = current + quantity
	}

	next = clampQuantity(next, product.Stock)
	if next <= 0 {
		return store.DeleteBasketLine(ctx, s.db, s.basket.ID, product.ID)
	}

	return store.SetBasketLine(ctx, s.db, s.basket.ID, product.ID, next)
}

func (s *Stored) Remove(ctx context.Context, productID int64) error {
	return store.DeleteBasketLine(ctx, s.db, s.basket.ID, productID)
}

func (s *Stored) Lines(ctx context.Context) ([]Line, error) {
	rows, err := store.ListBasketLines(ctx, s.db, s.basket.ID)
	if err != nil {
		return nil, err
	}

	lines := make([]Line, 0, len(rows))
	for _, row := range rows {
		if row.Quantity <= 0 {
			continue
		}
		lines = append(lines, makeLine(row.Product, row.Quantity))
	}
	return lines, nil
}

func (s *Stored) Len(ctx context.Context) (int, error) {
	return store.BasketTotalQuantity(ctx, s.db, s.basket.ID)
}

func (s *Stored) TotalPrice(ctx context.Context) (decimal.Decimal, error) {
	lines, err := s.Lines(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return sumLines(lines), nil
}

func (s *Stored) Clear(ctx context.Context) error {
	return store.ClearBasket(ctx, s.db, s.basket.ID)
}

func (s *Stored) Quantity(ctx context.Context, productID int64) (int, error) {
	return store.GetBasketLineQuantity(ctx, s.db, s.basket.ID, productID)
}
