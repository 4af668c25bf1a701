package basket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BohdanKuzik/MamaSHO/internal/models"
)

type fakeKV struct {
	mu    sync.Mutex
	items map[string]string
	ttls  map[string]time.Duration
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		items: make(map[string]string),
		ttls:  make(map[string]time.Duration),
	}
}

func (f *fakeKV) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.items[key]
	return value, ok, nil
}

func (f *fakeKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeKV) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, key)
	delete(f.ttls, key)
	return nil
}

func testProduct(id int64, stock int) *models.Product {
	return &models.Product{
		ID:    id,
		Name:  "Test Product",
		Price: decimal.NewFromInt(100),
		Stock: stock,
	}
}

func TestSessionAddIncrements(t *testing.T) {
	ctx := context.Background()
	session := NewSession(newFakeKV(), nil, "token-1", time.Hour)

	product := testProduct(1, 10)

	require.NoError(t, session.Add(ctx, product, 2, false))
	require.NoError(t, session.Add(ctx, product, 3, false))

	quantity, err := session.Quantity(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, quantity)
}

func TestSessionAddAbsolute(t *testing.T) {
	ctx := context.Background()
	session := NewSession(newFakeKV(), nil, "token-2", time.Hour)

	product := testProduct(1, 10)

	require.NoError(t, session.Add(ctx, product, 7, false))
	require.NoError(t, session.Add(ctx, product, 2, true))

	quantity, err := session.Quantity(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, quantity)
}

func TestSessionAddClampsToStock(t *testing.T) {
	ctx := context.Background()
	session := NewSession(newFakeKV(), nil, "token-3", time.Hour)

	product := testProduct(1, 3)

	require.NoError(t, session.Add(ctx, product, 10, false))

	quantity, err := session.Quantity(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, quantity)

	// Increments clamp against the same ceiling.
	require.NoError(t, session.Add(ctx, product, 1, false))
	quantity, _ = session.Quantity(ctx, product.ID)
	assert.Equal(t, 3, quantity)
}

func TestSessionAddZeroRemoves(t *testing.T) {
	ctx := context.Background()
	session := NewSession(newFakeKV(), nil, "token-4", time.Hour)

	product := testProduct(1, 10)

	require.NoError(t, session.Add(ctx, product, 4, false))
	require.NoError(t, session.Add(ctx, product, 0, true))

	quantity, err := session.Quantity(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, quantity)

	count, err := session.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSessionAddNegativeRemoves(t *testing.T) {
	ctx := context.Background()
	session := NewSession(newFakeKV(), nil, "token-5", time.Hour)

	product := testProduct(1, 10)

	require.NoError(t, session.Add(ctx, product, 2, false))
	require.NoError(t, session.Add(ctx, product, -5, false))

	quantity, err := session.Quantity(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, quantity)
}

func TestSessionOutOfStockProductNotAdded(t *testing.T) {
	ctx := context.Background()
	session := NewSession(newFakeKV(), nil, "token-6", time.Hour)

	product := testProduct(1, 0)

	require.NoError(t, session.Add(ctx, product, 1, false))

	count, err := session.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSessionRemove(t *testing.T) {
	ctx := context.Background()
	session := NewSession(newFakeKV(), nil, "token-7", time.Hour)

	product1 := testProduct(1, 10)
	product2 := testProduct(2, 10)

	require.NoError(t, session.Add(ctx, product1, 2, false))
	require.NoError(t, session.Add(ctx, product2, 1, false))

	require.NoError(t, session.Remove(ctx, product1.ID))

	quantity, _ := session.Quantity(ctx, product1.ID)
	assert.Equal(t, 0, quantity)
	quantity, _ = session.Quantity(ctx, product2.ID)
	assert.Equal(t, 1, quantity)

	// Removing an absent product is a no-op.
	require.NoError(t, session.Remove(ctx, 999))
}

func TestSessionLen(t *testing.T) {
	ctx := context.Background()
	session := NewSession(newFakeKV(), nil, "token-8", time.Hour)

	require.NoError(t, session.Add(ctx, testProduct(1, 10), 2, false))
	require.NoError(t, session.Add(ctx, testProduct(2, 10), 3, false))

	count, err := session.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestSessionClear(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	session := NewSession(kv, nil, "token-9", time.Hour)

	require.NoError(t, session.Add(ctx, testProduct(1, 10), 2, false))
	require.NoError(t, session.Clear(ctx))

	count, err := session.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, kv.items)
}

func TestSessionItems(t *testing.T) {
	ctx := context.Background()
	session := NewSession(newFakeKV(), nil, "token-10", time.Hour)

	require.NoError(t, session.Add(ctx, testProduct(3, 10), 2, false))
	require.NoError(t, session.Add(ctx, testProduct(7, 10), 1, false))

	items, err := session.Items(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{3: 2, 7: 1}, items)
}

func TestSessionTTLPropagated(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	ttl := 45 * time.Minute
	session := NewSession(kv, nil, "token-11", ttl)

	require.NoError(t, session.Add(ctx, testProduct(1, 10), 1, false))

	kv.mu.Lock()
	defer kv.mu.Unlock()
	for _, got := range kv.ttls {
		assert.Equal(t, ttl, got)
	}
	assert.Len(t, kv.ttls, 1)
}

func TestSessionsIsolatedByToken(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()

	sessionA := NewSession(kv, nil, "token-a", time.Hour)
	sessionB := NewSession(kv, nil, "token-b", time.Hour)

	require.NoError(t, sessionA.Add(ctx, testProduct(1, 10), 2, false))

	quantity, err := sessionB.Quantity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, quantity)
}
