package basket

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"github.com/BohdanKuzik/MamaSHO/internal/database"
	"github.com/BohdanKuzik/MamaSHO/internal/store"
)

// MergeSessionIntoStored folds an anonymous session basket into the
// authenticated customer's basket after login. Quantities add up and are
// clamped to current stock; products that vanished or went unavailable are
// skipped. The session storage is cleared afterwards so a later logout
// cannot resurrect already-merged items.
func MergeSessionIntoStored(ctx context.Context, db *sql.DB, session *Session, stored *Stored, logger zerolog.Logger) error {
	items, err := session.Items(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, productID := range ids {
		product, err := store.GetAvailableProduct(ctx, db, productID)
		if errors.Is(err, database.ErrProductNotFound) {
			logger.Debug().
				Int64("product_id", productID).
				Msg("skipping unavailable product during basket merge")
			continue
		}
		if err != nil {
			return err
		}

		if err := stored.Add(ctx, product, items[productID], false); err != nil {
			return err
		}
	}

	return session.Clear(ctx)
}
