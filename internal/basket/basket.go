// Package basket provides the shopping basket engines. Anonymous visitors
// get a session basket serialized into Redis; authenticated customers get a
// basket persisted in Postgres. Both expose the same capability contract.
package basket

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/BohdanKuzik/MamaSHO/internal/models"
)

// Line is a basket entry priced at read time. Prices are never frozen into
// the basket, so a price change shows up on the next read.
type Line struct {
	Product    models.Product  `json:"product"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// Engine is implemented by both basket variants.
//
// Add with updateQuantity=false increments the current quantity; with
// updateQuantity=true it sets the absolute quantity. The result is clamped
// to [0, product stock], and a result of zero removes the line. The engine
// clamps silently; callers decide whether to warn the customer.
type Engine interface {
	Add(ctx context.Context, product *models.Product, quantity int, updateQuantity bool) error
	Remove(ctx context.Context, productID int64) error
	Lines(ctx context.Context) ([]Line, error)
	Len(ctx context.Context) (int, error)
	TotalPrice(ctx context.Context) (decimal.Decimal, error)
	Clear(ctx context.Context) error

	// Quantity reports the holder's current quantity for one product,
	// zero if the product is not in the basket.
	Quantity(ctx context.Context, productID int64) (int, error)
}

func clampQuantity(quantity, stock int) int {
	if quantity > stock {
		return stock
	}
	return quantity
}

func makeLine(product models.Product, quantity int) Line {
	return Line{
		Product:    product,
		UnitPrice:  product.Price,
		Quantity:   quantity,
		TotalPrice: product.Price.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

func sumLines(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.TotalPrice)
	}
	return total
}
