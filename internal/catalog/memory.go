package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

// MemoryRepository keeps the catalog in process memory. Transactions work on a copy of the
// state which replaces the live state on commit, so a failed transaction leaves no trace.
type MemoryRepository struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	state *memoryState
}

type memoryState struct {
	products      map[int64]Product
	variants      map[int64]Variant
	nextProductID int64
	nextVariantID int64
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: &memoryState{
		products: make(map[int64]Product),
		variants: make(map[int64]Variant),
	}}
}

// Products returns a product store operating on the live state.
func (r *MemoryRepository) Products() ProductStore {
	return memoryProducts{repo: r}
}

// Variants returns a variant store operating on the live state.
func (r *MemoryRepository) Variants() VariantStore {
	return memoryVariants{repo: r}
}

// WithTx serialises transactions and commits by swapping in the modified copy.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	working := r.state.clone()
	r.mu.RUnlock()

	if err := fn(ctx, memoryTx{state: working}); err != nil {
		return err
	}

	r.mu.Lock()
	r.state = working
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) read(fn func(*memoryState)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.state)
}

// write waits for any open transaction so the commit swap cannot drop the change.
func (r *MemoryRepository) write(fn func(*memoryState) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.state)
}

type memoryTx struct {
	state *memoryState
}

func (t memoryTx) Products() ProductStore { return memoryProducts{tx: t.state} }
func (t memoryTx) Variants() VariantStore { return memoryVariants{tx: t.state} }

type memoryProducts struct {
	repo *MemoryRepository
	tx   *memoryState
}

type memoryVariants struct {
	repo *MemoryRepository
	tx   *memoryState
}

func (m memoryProducts) run(fn func(*memoryState)) {
	if m.tx != nil {
		fn(m.tx)
		return
	}
	m.repo.read(fn)
}

func (m memoryProducts) mutate(fn func(*memoryState) error) error {
	if m.tx != nil {
		return fn(m.tx)
	}
	return m.repo.write(fn)
}

func (m memoryProducts) FindByExternalID(_ context.Context, externalID int64) (*Product, error) {
	var found *Product
	m.run(func(s *memoryState) {
		for _, p := range s.products {
			if p.ExternalID != nil && *p.ExternalID == externalID {
				p := cloneProduct(p)
				found = &p
				return
			}
		}
	})
	return found, nil
}

func (m memoryProducts) FindByID(_ context.Context, id int64) (*Product, error) {
	var found *Product
	m.run(func(s *memoryState) {
		if p, ok := s.products[id]; ok {
			p = cloneProduct(p)
			found = &p
		}
	})
	return found, nil
}

func (m memoryProducts) Save(_ context.Context, p Product) (Product, error) {
	err := m.mutate(func(s *memoryState) error {
		if p.ExternalID != nil {
			for id, other := range s.products {
				if id != p.ID && other.ExternalID != nil && *other.ExternalID == *p.ExternalID {
					return fmt.Errorf("%w: products %d", ErrDuplicateExternalID, *p.ExternalID)
				}
			}
		}
		if p.ID == 0 {
			s.nextProductID++
			p.ID = s.nextProductID
		} else if _, ok := s.products[p.ID]; !ok {
			return ErrProductNotFound
		}
		s.products[p.ID] = cloneProduct(p)
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

func (m memoryProducts) FindAll(_ context.Context) ([]Product, error) {
	var products []Product
	m.run(func(s *memoryState) {
		for _, p := range s.products {
			products = append(products, cloneProduct(p))
		}
	})
	sortProducts(products)
	return products, nil
}

func (m memoryProducts) Search(_ context.Context, query string) ([]Product, error) {
	fold := cases.Fold()
	needle := fold.String(query)
	var products []Product
	m.run(func(s *memoryState) {
		for _, p := range s.products {
			if strings.Contains(fold.String(p.Title), needle) ||
				(p.Vendor != nil && strings.Contains(fold.String(*p.Vendor), needle)) {
				products = append(products, cloneProduct(p))
			}
		}
	})
	sortProducts(products)
	return products, nil
}

func (m memoryProducts) Delete(_ context.Context, id int64) error {
	return m.mutate(func(s *memoryState) error {
		if _, ok := s.products[id]; !ok {
			return ErrProductNotFound
		}
		delete(s.products, id)
		for vid, v := range s.variants {
			if v.ProductID == id {
				delete(s.variants, vid)
			}
		}
		return nil
	})
}

func (m memoryVariants) run(fn func(*memoryState)) {
	if m.tx != nil {
		fn(m.tx)
		return
	}
	m.repo.read(fn)
}

func (m memoryVariants) mutate(fn func(*memoryState) error) error {
	if m.tx != nil {
		return fn(m.tx)
	}
	return m.repo.write(fn)
}

func (m memoryVariants) FindByExternalID(_ context.Context, externalID int64) (*Variant, error) {
	var found *Variant
	m.run(func(s *memoryState) {
		for _, v := range s.variants {
			if v.ExternalID != nil && *v.ExternalID == externalID {
				v := cloneVariant(v)
				found = &v
				return
			}
		}
	})
	return found, nil
}

func (m memoryVariants) Save(_ context.Context, v Variant) (Variant, error) {
	err := m.mutate(func(s *memoryState) error {
		if _, ok := s.products[v.ProductID]; !ok {
			return fmt.Errorf("catalog: variant owner %d: %w", v.ProductID, ErrProductNotFound)
		}
		if v.ExternalID != nil {
			for id, other := range s.variants {
				if id != v.ID && other.ExternalID != nil && *other.ExternalID == *v.ExternalID {
					return fmt.Errorf("%w: variants %d", ErrDuplicateExternalID, *v.ExternalID)
				}
			}
		}
		if v.ID == 0 {
			s.nextVariantID++
			v.ID = s.nextVariantID
		} else if _, ok := s.variants[v.ID]; !ok {
			return ErrVariantNotFound
		}
		s.variants[v.ID] = cloneVariant(v)
		return nil
	})
	if err != nil {
		return Variant{}, err
	}
	return v, nil
}

func (m memoryVariants) FindAllByProduct(_ context.Context, productID int64) ([]Variant, error) {
	var variants []Variant
	m.run(func(s *memoryState) {
		for _, v := range s.variants {
			if v.ProductID == productID {
				variants = append(variants, cloneVariant(v))
			}
		}
	})
	sort.Slice(variants, func(i, j int) bool { return variants[i].ID < variants[j].ID })
	return variants, nil
}

func (m memoryVariants) DeleteAllByProduct(_ context.Context, productID int64) error {
	return m.mutate(func(s *memoryState) error {
		for id, v := range s.variants {
			if v.ProductID == productID {
				delete(s.variants, id)
			}
		}
		return nil
	})
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		products:      make(map[int64]Product, len(s.products)),
		variants:      make(map[int64]Variant, len(s.variants)),
		nextProductID: s.nextProductID,
		nextVariantID: s.nextVariantID,
	}
	for id, p := range s.products {
		out.products[id] = cloneProduct(p)
	}
	for id, v := range s.variants {
		out.variants[id] = cloneVariant(v)
	}
	return out
}

func cloneProduct(p Product) Product {
	p.ExternalID = cloneInt64(p.ExternalID)
	p.Handle = cloneString(p.Handle)
	p.Vendor = cloneString(p.Vendor)
	return p
}

func cloneVariant(v Variant) Variant {
	v.ExternalID = cloneInt64(v.ExternalID)
	v.SKU = cloneString(v.SKU)
	v.Price = cloneString(v.Price)
	return v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt64(i *int64) *int64 {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

func sortProducts(products []Product) {
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })
}
