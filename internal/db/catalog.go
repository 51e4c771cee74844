package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/craftshopapp/craftshop/internal/models"
)

// execer is satisfied by both *pgxpool.Pool and pgx.Tx so stock
// restoration can run inside a caller-owned transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CatalogStore adjusts stock counters on the product catalog. The catalog
// itself is owned elsewhere; this store only increments counters.
type CatalogStore struct{}

func NewCatalogStore() *CatalogStore {
	return &CatalogStore{}
}

// RestoreStock adds each item's quantity back to its stock counter, the
// variant counter when the item references one, the base product otherwise.
// Increments are expressed in SQL so concurrent restorations for the same
// product never overwrite each other.
func (s *CatalogStore) RestoreStock(ctx context.Context, db execer, items []models.OrderItem) error {
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		if item.VariantID != nil {
			if _, err := db.Exec(ctx,
				`UPDATE product_variants SET stock = stock + $1 WHERE id = $2`,
				item.Quantity, *item.VariantID,
			); err != nil {
				return fmt.Errorf("failed to restore variant stock: %w", err)
			}
			continue
		}
		if _, err := db.Exec(ctx,
			`UPDATE products SET stock = stock + $1 WHERE id = $2`,
			item.Quantity, item.ProductID,
		); err != nil {
			return fmt.Errorf("failed to restore product stock: %w", err)
		}
	}
	return nil
}
