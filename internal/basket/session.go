package basket

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/BohdanKuzik/MamaSHO/internal/database"
	"github.com/BohdanKuzik/MamaSHO/internal/models"
	"github.com/BohdanKuzik/MamaSHO/internal/store"
)

// KV is the slice of Redis the session basket needs. Production uses
// RedisKV; unit tests substitute an in-memory map.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

type RedisKV struct {
	Client *redis.Client
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.Client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Del(ctx context.Context, key string) error {
	return r.Client.Del(ctx, key).Err()
}

// Session is the anonymous visitor's basket: a productID→quantity map
// serialized as JSON under the visitor's session token, with a sliding TTL.
type Session struct {
	kv    KV
	db    *sql.DB
	token string
	ttl   time.Duration
}

func NewSession(kv KV, db *sql.DB, token string, ttl time.Duration) *Session {
	return &Session{kv: kv, db: db, token: token, ttl: ttl}
}

func (s *Session) Token() string {
	return s.token
}

func (s *Session) key() string {
	return "basket:session:" + s.token
}

func (s *Session) load(ctx context.Context) (map[string]int, error) {
	raw, found, err := s.kv.Get(ctx, s.key())
	if err != nil {
		return nil, fmt.Errorf("load session basket: %w", err)
	}
	if !found {
		return map[string]int{}, nil
	}

	items := map[string]int{}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode session basket: %w", err)
	}
	return items, nil
}

func (s *Session) save(ctx context.Context, items map[string]int) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode session basket: %w", err)
	}
	if err := s.kv.Set(ctx, s.key(), string(raw), s.ttl); err != nil {
		return fmt.Errorf("save session basket: %w", err)
	}
	return nil
}

func (s *Session) Add(ctx context.Context, product *models.Product, quantity int, updateQuantity bool) error {
	items, err := s.load(ctx)
	if err != nil {
		return err
	}

	id := strconv.FormatInt(product.ID, 10)
	next := quantity
	if !updateQuantity {
		next = items[id] + quantity
	}

	next = clampQuantity(next, product.Stock)
	if next <= 0 {
		delete(items, id)
	} else {
		items[id] = next
	}

	return s.save(ctx, items)
}

func (s *Session) Remove(ctx context.Context, productID int64) error {
	items, err := s.load(ctx)
	if err != nil {
		return err
	}

	delete(items, strconv.FormatInt(productID, 10))
	return s.save(ctx, items)
}

// Lines resolves each held product against the catalog at call time.
// Products that have been deleted since they were added are skipped.
func (s *Session) Lines(ctx context.Context) ([]Line, error) {
	items, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	lines := make([]Line, 0, len(items))
	for _, id := range ids {
		quantity := items[id]
		if quantity <= 0 {
			continue
		}

		productID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}

		product, err := store.GetProduct(ctx, s.db, productID)
		if errors.Is(err, database.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		lines = append(lines, makeLine(*product, quantity))
	}

	return lines, nil
}

func (s *Session) Len(ctx context.Context) (int, error) {
	items, err := s.load(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, quantity := range items {
		total += quantity
	}
	return total, nil
}

func (s *Session) TotalPrice(ctx context.Context) (decimal.Decimal, error) {
	lines, err := s.Lines(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return sumLines(lines), nil
}

func (s *Session) Clear(ctx context.Context) error {
	if err := s.kv.Del(ctx, s.key()); err != nil {
		return fmt.Errorf("clear session basket: %w", err)
	}
	return nil
}

func (s *Session) Quantity(ctx context.Context, productID int64) (int, error) {
	items, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	return items[strconv.FormatInt(productID, 10)], nil
}

// Items returns a copy of the raw productID→quantity map, used by the merge
// protocol on login.
func (s *Session) Items(ctx context.Context) (map[int64]int, error) {
	raw, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	items := make(map[int64]int, len(raw))
	for id, quantity := range raw {
		productID, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}
		items[productID] = quantity
	}
	return items, nil
}
