package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/BohdanKuzik/MamaSHO/internal/database"
	"github.com/BohdanKuzik/MamaSHO/internal/models"
	"github.com/BohdanKuzik/MamaSHO/internal/store"
)

func TestConcurrentStockDecrement(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	product, err := store.CreateProduct(ctx, db, "PRD-001", "Throw Pillow", "Test", decimal.NewFromInt(100), 10)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	concurrency := 5
	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
				return store.DecrementStock(ctx, tx, product.ID, 2)
			})
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		if err == nil {
			successCount++
		}
	}

	finalProduct, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}

	expectedStock := 10 - (successCount * 2)
	if finalProduct.Stock != expectedStock {
		t.Errorf("Expected stock %d, got %d", expectedStock, finalProduct.Stock)
	}
	if finalProduct.Stock < 0 {
		t.Errorf("Stock must never go negative, got %d", finalProduct.Stock)
	}
}

func TestDecrementStockShortfall(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	product, err := store.CreateProduct(ctx, db, "PRD-002", "Table Runner", "Test", decimal.NewFromInt(35), 3)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return store.DecrementStock(ctx, tx, product.ID, 5)
	})

	if _, ok := database.IsInsufficientStock(err); !ok {
		t.Errorf("Expected insufficient stock error, got: %v", err)
	}

	after, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if after.Stock != 3 {
		t.Errorf("Stock should remain 3 after failed decrement, got %d", after.Stock)
	}
}

func TestRestoreStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	product, err := store.CreateProduct(ctx, db, "PRD-003", "Bath Towel", "Test", decimal.NewFromInt(22), 8)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if err := store.DecrementStock(ctx, tx, product.ID, 5); err != nil {
			return err
		}
		return store.RestoreStock(ctx, tx, product.ID, 2)
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	after, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if after.Stock != 5 {
		t.Errorf("Expected stock 5, got %d", after.Stock)
	}
}

func TestSetStockOptimistic(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	product, err := store.CreateProduct(ctx, db, "PRD-005", "Wool Blanket", "Test", decimal.NewFromInt(110), 10)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	if err := store.SetStockOptimistic(ctx, db, product.ID, 25, product.Version); err != nil {
		t.Fatalf("Set stock: %v", err)
	}

	after, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if after.Stock != 25 {
		t.Errorf("Expected stock 25, got %d", after.Stock)
	}
	if after.Version != product.Version+1 {
		t.Errorf("Expected version bump to %d, got %d", product.Version+1, after.Version)
	}

	// A write based on the stale version must fail.
	err = store.SetStockOptimistic(ctx, db, product.ID, 30, product.Version)
	if !errors.Is(err, database.ErrOptimisticLockFailed) {
		t.Errorf("Expected optimistic lock failure, got: %v", err)
	}

	final, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if final.Stock != 25 {
		t.Errorf("Stale write should not apply, stock is %d", final.Stock)
	}
}

func TestGetAvailableProductFiltersHidden(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	product, err := store.CreateProduct(ctx, db, "PRD-004", "Ceramic Vase", "Test", decimal.NewFromInt(65), 4)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	if _, err := store.GetAvailableProduct(ctx, db, product.ID); err != nil {
		t.Fatalf("Available product should be visible: %v", err)
	}

	if err := store.SetProductAvailability(ctx, db, product.ID, false); err != nil {
		t.Fatalf("Hide product: %v", err)
	}

	_, err = store.GetAvailableProduct(ctx, db, product.ID)
	if !errors.Is(err, database.ErrProductNotFound) {
		t.Errorf("Hidden product should be not found, got: %v", err)
	}

	// The plain getter still sees it, for admin and order history paths.
	if _, err := store.GetProduct(ctx, db, product.ID); err != nil {
		t.Errorf("Get product should ignore availability: %v", err)
	}
}

func TestListProductsPagination(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	var hidden *models.Product
	for i := 0; i < 25; i++ {
		product, err := store.CreateProduct(ctx, db,
			fmt.Sprintf("PRD-100-%02d", i), "Catalog Item", "Test", decimal.NewFromInt(10), 5)
		if err != nil {
			t.Fatalf("Create product %d: %v", i, err)
		}
		if i == 0 {
			hidden = product
		}
	}

	if err := store.SetProductAvailability(ctx, db, hidden.ID, false); err != nil {
		t.Fatalf("Hide product: %v", err)
	}

	page1, err := store.ListProducts(ctx, db, false, 1, 10)
	if err != nil {
		t.Fatalf("List page 1: %v", err)
	}
	if page1.Total != 25 {
		t.Errorf("Expected total 25, got %d", page1.Total)
	}
	if got := len(page1.Items.([]models.Product)); got != 10 {
		t.Errorf("Expected 10 items on page 1, got %d", got)
	}

	page3, err := store.ListProducts(ctx, db, false, 3, 10)
	if err != nil {
		t.Fatalf("List page 3: %v", err)
	}
	if got := len(page3.Items.([]models.Product)); got != 5 {
		t.Errorf("Expected 5 items on page 3, got %d", got)
	}

	visible, err := store.ListProducts(ctx, db, true, 1, 100)
	if err != nil {
		t.Fatalf("List available: %v", err)
	}
	if visible.Total != 24 {
		t.Errorf("Expected 24 available products, got %d", visible.Total)
	}
}
