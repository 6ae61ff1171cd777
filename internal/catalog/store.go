package catalog

import "context"

// ProductStore is the data-access contract for products.
// Lookups return (nil, nil) when no row matches.
type ProductStore interface {
	FindByExternalID(ctx context.Context, externalID int64) (*Product, error)
	FindByID(ctx context.Context, id int64) (*Product, error)
	// Save inserts when ID is zero and updates otherwise, returning the stored row.
	Save(ctx context.Context, product Product) (Product, error)
	FindAll(ctx context.Context) ([]Product, error)
	// Search matches title or vendor case-insensitively.
	Search(ctx context.Context, query string) ([]Product, error)
	Delete(ctx context.Context, id int64) error
}

// VariantStore is the data-access contract for variants.
type VariantStore interface {
	FindByExternalID(ctx context.Context, externalID int64) (*Variant, error)
	Save(ctx context.Context, variant Variant) (Variant, error)
	FindAllByProduct(ctx context.Context, productID int64) ([]Variant, error)
	DeleteAllByProduct(ctx context.Context, productID int64) error
}

// TxRepository exposes the stores bound to one transaction.
type TxRepository interface {
	Products() ProductStore
	Variants() VariantStore
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	TxRepository
	// WithTx runs fn in a transaction. The transaction commits only when fn returns nil.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}
