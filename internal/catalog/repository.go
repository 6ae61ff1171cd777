package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/techmist/catalog-sync/internal/platform/db"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists catalog data in PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	queries *queries
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, queries: &queries{db: pool}}
}

// Products returns the pool-bound product store.
func (r *Repository) Products() ProductStore {
	return productQueries{r.queries}
}

// Variants returns the pool-bound variant store.
func (r *Repository) Variants() VariantStore {
	return variantQueries{r.queries}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{queries: &queries{db: tx}})
	})
}

type txRepo struct {
	queries *queries
}

func (t *txRepo) Products() ProductStore { return productQueries{t.queries} }
func (t *txRepo) Variants() VariantStore { return variantQueries{t.queries} }

type queries struct {
	db DBTX
}

type productQueries struct{ *queries }

type variantQueries struct{ *queries }

const productColumns = `id, external_id, title, handle, vendor`

const variantColumns = `id, external_id, product_id, title, sku, price`

func (q productQueries) FindByExternalID(ctx context.Context, externalID int64) (*Product, error) {
	row := q.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE external_id = $1`, externalID)
	return scanOptionalProduct(row)
}

func (q productQueries) FindByID(ctx context.Context, id int64) (*Product, error) {
	row := q.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanOptionalProduct(row)
}

func (q productQueries) Save(ctx context.Context, p Product) (Product, error) {
	if p.ID == 0 {
		err := q.db.QueryRow(ctx,
			`INSERT INTO products (external_id, title, handle, vendor) VALUES ($1, $2, $3, $4) RETURNING id`,
			p.ExternalID, p.Title, p.Handle, p.Vendor,
		).Scan(&p.ID)
		if err != nil {
			return Product{}, translateError(err)
		}
		return p, nil
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE products SET external_id = $1, title = $2, handle = $3, vendor = $4 WHERE id = $5`,
		p.ExternalID, p.Title, p.Handle, p.Vendor, p.ID,
	)
	if err != nil {
		return Product{}, translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (q productQueries) FindAll(ctx context.Context) ([]Product, error) {
	rows, err := q.db.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

func (q productQueries) Search(ctx context.Context, query string) ([]Product, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE title ILIKE $1 OR vendor ILIKE $1 ORDER BY id ASC`,
		likePattern(query),
	)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

func (q productQueries) Delete(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (q variantQueries) FindByExternalID(ctx context.Context, externalID int64) (*Variant, error) {
	var v Variant
	err := q.db.QueryRow(ctx, `SELECT `+variantColumns+` FROM variants WHERE external_id = $1`, externalID).
		Scan(&v.ID, &v.ExternalID, &v.ProductID, &v.Title, &v.SKU, &v.Price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (q variantQueries) Save(ctx context.Context, v Variant) (Variant, error) {
	if v.ID == 0 {
		err := q.db.QueryRow(ctx,
			`INSERT INTO variants (external_id, product_id, title, sku, price) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			v.ExternalID, v.ProductID, v.Title, v.SKU, v.Price,
		).Scan(&v.ID)
		if err != nil {
			return Variant{}, translateError(err)
		}
		return v, nil
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE variants SET external_id = $1, product_id = $2, title = $3, sku = $4, price = $5 WHERE id = $6`,
		v.ExternalID, v.ProductID, v.Title, v.SKU, v.Price, v.ID,
	)
	if err != nil {
		return Variant{}, translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return Variant{}, ErrVariantNotFound
	}
	return v, nil
}

func (q variantQueries) FindAllByProduct(ctx context.Context, productID int64) ([]Variant, error) {
	rows, err := q.db.Query(ctx, `SELECT `+variantColumns+` FROM variants WHERE product_id = $1 ORDER BY id ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var variants []Variant
	for rows.Next() {
		var v Variant
		if err := rows.Scan(&v.ID, &v.ExternalID, &v.ProductID, &v.Title, &v.SKU, &v.Price); err != nil {
			return nil, err
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func (q variantQueries) DeleteAllByProduct(ctx context.Context, productID int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM variants WHERE product_id = $1`, productID)
	return err
}

func scanOptionalProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.ExternalID, &p.Title, &p.Handle, &p.Vendor)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectProducts(rows pgx.Rows) ([]Product, error) {
	defer rows.Close()
	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.ExternalID, &p.Title, &p.Handle, &p.Vendor); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(query string) string {
	return "%" + likeEscaper.Replace(query) + "%"
}

func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateExternalID, pgErr.ConstraintName)
	}
	return err
}
