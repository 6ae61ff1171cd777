package catalog

import (
	"context"
	"fmt"
)

// Reconciler merges a decoded feed into the store, keyed by external id.
type Reconciler struct {
	repo RepositoryPort
}

// NewReconciler builds a Reconciler over repo.
func NewReconciler(repo RepositoryPort) *Reconciler {
	return &Reconciler{repo: repo}
}

// Reconcile upserts every product and variant of feed inside one transaction and returns
// the number of products visited. On error nothing from this call is retained.
func (r *Reconciler) Reconcile(ctx context.Context, feed Feed) (int, error) {
	stats, err := r.ReconcileWithStats(ctx, feed)
	return stats.Products, err
}

// ReconcileWithStats is Reconcile with row-level counters.
func (r *Reconciler) ReconcileWithStats(ctx context.Context, feed Feed) (ReconcileStats, error) {
	var stats ReconcileStats
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stats = ReconcileStats{}
		for _, incoming := range feed.Products {
			if err := reconcileProduct(ctx, tx, incoming, &stats); err != nil {
				return err
			}
			stats.Products++
		}
		return nil
	})
	if err != nil {
		return ReconcileStats{}, err
	}
	return stats, nil
}

func reconcileProduct(ctx context.Context, tx TxRepository, incoming FeedProduct, stats *ReconcileStats) error {
	products := tx.Products()
	existing, err := products.FindByExternalID(ctx, incoming.ID)
	if err != nil {
		return &ReconcileError{Op: fmt.Sprintf("find product %d", incoming.ID), Err: err}
	}

	var product Product
	switch {
	case existing == nil:
		product, err = products.Save(ctx, Product{
			ExternalID: int64Ptr(incoming.ID),
			Title:      incoming.Title,
			Handle:     incoming.Handle,
		})
		if err != nil {
			return &ReconcileError{Op: fmt.Sprintf("insert product %d", incoming.ID), Err: err}
		}
		stats.ProductsCreated++
	case existing.Title != incoming.Title || !equalString(existing.Handle, incoming.Handle):
		existing.Title = incoming.Title
		existing.Handle = incoming.Handle
		product, err = products.Save(ctx, *existing)
		if err != nil {
			return &ReconcileError{Op: fmt.Sprintf("update product %d", incoming.ID), Err: err}
		}
		stats.ProductsUpdated++
	default:
		product = *existing
	}

	for _, v := range incoming.Variants {
		if err := reconcileVariant(ctx, tx, product.ID, v, stats); err != nil {
			return err
		}
	}
	return nil
}

func reconcileVariant(ctx context.Context, tx TxRepository, productID int64, incoming FeedVariant, stats *ReconcileStats) error {
	variants := tx.Variants()
	existing, err := variants.FindByExternalID(ctx, incoming.ID)
	if err != nil {
		return &ReconcileError{Op: fmt.Sprintf("find variant %d", incoming.ID), Err: err}
	}

	if existing == nil {
		_, err := variants.Save(ctx, Variant{
			ExternalID: int64Ptr(incoming.ID),
			ProductID:  productID,
			Title:      incoming.Title,
			SKU:        incoming.SKU,
			Price:      incoming.Price,
		})
		if err != nil {
			return &ReconcileError{Op: fmt.Sprintf("insert variant %d", incoming.ID), Err: err}
		}
		stats.VariantsCreated++
		return nil
	}

	changed := false
	if existing.Title != incoming.Title {
		existing.Title = incoming.Title
		changed = true
	}
	if !equalString(existing.SKU, incoming.SKU) {
		existing.SKU = incoming.SKU
		changed = true
	}
	if !equalString(existing.Price, incoming.Price) {
		existing.Price = incoming.Price
		changed = true
	}
	if existing.ProductID != productID {
		existing.ProductID = productID
		changed = true
		stats.VariantsMoved++
	}
	if !changed {
		return nil
	}
	if _, err := variants.Save(ctx, *existing); err != nil {
		return &ReconcileError{Op: fmt.Sprintf("update variant %d", incoming.ID), Err: err}
	}
	stats.VariantsUpdated++
	return nil
}
