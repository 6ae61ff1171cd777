package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
)

// FeedFetcher retrieves raw feed bytes from a URL.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// TrashPort stashes deleted products so they can be restored.
type TrashPort interface {
	Stash(ctx context.Context, product Product) error
	Pop(ctx context.Context, id int64) (Product, error)
}

// SyncObserver receives sync telemetry. A nil observer is ignored.
type SyncObserver interface {
	ObserveFetch(source, outcome string)
	ObserveSync(stats ReconcileStats, err error)
}

// ServiceConfig groups feed locations.
type ServiceConfig struct {
	FeedURL     string
	FallbackURL string
}

// ProductInput carries a manually entered product. Blank optional fields are stored as NULL.
type ProductInput struct {
	Title  string `validate:"required,max=255"`
	Handle string `validate:"omitempty,max=255"`
	Vendor string `validate:"omitempty,max=255"`
}

// Service coordinates feed sync and catalog queries.
type Service struct {
	repo       RepositoryPort
	fetcher    FeedFetcher
	reconciler *Reconciler
	trash      TrashPort
	cfg        ServiceConfig
	logger     *slog.Logger
	observer   SyncObserver
	validate   *validator.Validate
	flight     singleflight.Group
}

// NewService builds Service. trash and observer may be nil.
func NewService(repo RepositoryPort, fetcher FeedFetcher, trash TrashPort, cfg ServiceConfig, logger *slog.Logger, observer SyncObserver) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.FallbackURL) == "" {
		cfg.FallbackURL = DefaultFallbackURL
	}
	return &Service{
		repo:       repo,
		fetcher:    fetcher,
		reconciler: NewReconciler(repo),
		trash:      trash,
		cfg:        cfg,
		logger:     logger,
		observer:   observer,
		validate:   validator.New(),
	}
}

// PrimaryURL resolves the feed URL: override, then configured default, then DefaultFeedURL.
func (s *Service) PrimaryURL(override string) string {
	if u := strings.TrimSpace(override); u != "" {
		return u
	}
	if u := strings.TrimSpace(s.cfg.FeedURL); u != "" {
		return u
	}
	return DefaultFeedURL
}

// FetchAndStore fetches the feed, falls back to the mirror when the primary lists no products,
// and reconciles the result. It returns the number of products processed.
// Concurrent calls for the same primary URL share one execution.
func (s *Service) FetchAndStore(ctx context.Context, override string) (int, error) {
	primary := s.PrimaryURL(override)
	detached := context.WithoutCancel(ctx)
	resultCh := s.flight.DoChan(primary, func() (interface{}, error) {
		return s.fetchAndStore(detached, primary)
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int), nil
	}
}

func (s *Service) fetchAndStore(ctx context.Context, primary string) (int, error) {
	fallback := s.cfg.FallbackURL
	feed, err := s.fetchFeed(ctx, primary, "primary")
	if err != nil {
		s.logger.Error("feed sync failed", slog.String("url", primary), slog.Any("error", err))
		s.observeSync(ReconcileStats{}, err)
		return 0, err
	}
	source := primary
	if len(feed.Products) == 0 {
		s.logger.Warn("primary feed returned 0 products, retrying via mirror", slog.String("fallback", fallback))
		feed, err = s.fetchFeed(ctx, fallback, "fallback")
		if err != nil {
			s.logger.Error("feed sync failed", slog.String("url", fallback), slog.Any("error", err))
			s.observeSync(ReconcileStats{}, err)
			return 0, err
		}
		source = fallback
	}

	stats, err := s.reconciler.ReconcileWithStats(ctx, feed)
	s.observeSync(stats, err)
	if err != nil {
		s.logger.Error("reconcile feed", slog.String("url", source), slog.Any("error", err))
		return 0, err
	}
	s.logger.Info("fetched and upserted products",
		slog.Int("count", stats.Products),
		slog.String("source", source),
		slog.String("primary", primary),
		slog.String("fallback", fallback),
		slog.Int("products_created", stats.ProductsCreated),
		slog.Int("products_updated", stats.ProductsUpdated),
		slog.Int("variants_created", stats.VariantsCreated),
		slog.Int("variants_updated", stats.VariantsUpdated),
		slog.Int("variants_moved", stats.VariantsMoved))
	return stats.Products, nil
}

func (s *Service) fetchFeed(ctx context.Context, url, source string) (Feed, error) {
	body, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		s.observe(source, "fetch_error")
		return Feed{}, err
	}
	feed, err := DecodeFeed(body)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			decodeErr.URL = url
		}
		s.observe(source, "decode_error")
		return Feed{}, err
	}
	outcome := "ok"
	if len(feed.Products) == 0 {
		outcome = "empty"
	}
	s.observe(source, outcome)
	return feed, nil
}

func (s *Service) observe(source, outcome string) {
	if s.observer != nil {
		s.observer.ObserveFetch(source, outcome)
	}
}

// observeSync reports every sync attempt, including ones that never reached the store.
func (s *Service) observeSync(stats ReconcileStats, err error) {
	if s.observer != nil {
		s.observer.ObserveSync(stats, err)
	}
}

// ListProducts returns all products ordered by internal id.
func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.repo.Products().FindAll(ctx)
}

// SearchProducts matches title or vendor case-insensitively. A blank query lists everything.
func (s *Service) SearchProducts(ctx context.Context, query string) ([]Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.ListProducts(ctx)
	}
	return s.repo.Products().Search(ctx, query)
}

// ListVariants returns the variants owned by productID.
func (s *Service) ListVariants(ctx context.Context, productID int64) ([]Variant, error) {
	return s.repo.Variants().FindAllByProduct(ctx, productID)
}

// GetProduct returns the product or nil when absent.
func (s *Service) GetProduct(ctx context.Context, id int64) (*Product, error) {
	if id <= 0 {
		return nil, nil
	}
	return s.repo.Products().FindByID(ctx, id)
}

// AddProduct stores a manually created product. It never carries an external id.
func (s *Service) AddProduct(ctx context.Context, input ProductInput) (Product, error) {
	input.Title = strings.TrimSpace(input.Title)
	if err := s.validate.Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return Product{}, &ValidationError{Field: strings.ToLower(fieldErrs[0].Field()), Tag: fieldErrs[0].Tag()}
		}
		return Product{}, fmt.Errorf("%w: %v", ErrInvalidProduct, err)
	}
	return s.repo.Products().Save(ctx, Product{
		Title:  input.Title,
		Handle: optionalString(input.Handle),
		Vendor: optionalString(input.Vendor),
	})
}

// DeleteProduct removes a product together with its variants and stashes it for restore.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	product, err := s.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	if product == nil {
		return fmt.Errorf("%w: id %d", ErrProductNotFound, id)
	}
	if s.trash != nil {
		if err := s.trash.Stash(ctx, *product); err != nil {
			return fmt.Errorf("catalog: stash product %d: %w", id, err)
		}
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Variants().DeleteAllByProduct(ctx, id); err != nil {
			return err
		}
		return tx.Products().Delete(ctx, id)
	})
	if err != nil {
		if s.trash != nil {
			_, _ = s.trash.Pop(ctx, id)
		}
		return fmt.Errorf("catalog: delete product %d: %w", id, err)
	}
	s.logger.Info("product deleted", slog.Int64("id", id))
	return nil
}

// RestoreProduct re-adds a stashed product as a new manual product.
func (s *Service) RestoreProduct(ctx context.Context, id int64) (Product, error) {
	if s.trash == nil {
		return Product{}, fmt.Errorf("%w: id %d", ErrNotInTrash, id)
	}
	stashed, err := s.trash.Pop(ctx, id)
	if err != nil {
		return Product{}, err
	}
	restored, err := s.AddProduct(ctx, ProductInput{
		Title:  stashed.Title,
		Handle: Deref(stashed.Handle),
		Vendor: Deref(stashed.Vendor),
	})
	if err != nil {
		if stashErr := s.trash.Stash(ctx, stashed); stashErr != nil {
			s.logger.Warn("re-stash after failed restore", slog.Int64("id", id), slog.Any("error", stashErr))
		}
		return Product{}, err
	}
	s.logger.Info("product restored", slog.Int64("id", id), slog.Int64("new_id", restored.ID))
	return restored, nil
}
