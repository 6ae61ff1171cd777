package cataloghttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/techmist/catalog-sync/internal/catalog"
	"github.com/techmist/catalog-sync/internal/platform/httpx"
	"github.com/techmist/catalog-sync/internal/shared"
	"github.com/techmist/catalog-sync/internal/view"
)

// CatalogService is the business contract used by the handler.
type CatalogService interface {
	FetchAndStore(ctx context.Context, override string) (int, error)
	ListProducts(ctx context.Context) ([]catalog.Product, error)
	SearchProducts(ctx context.Context, query string) ([]catalog.Product, error)
	ListVariants(ctx context.Context, productID int64) ([]catalog.Variant, error)
	GetProduct(ctx context.Context, id int64) (*catalog.Product, error)
	AddProduct(ctx context.Context, input catalog.ProductInput) (catalog.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	RestoreProduct(ctx context.Context, id int64) (catalog.Product, error)
}

// Handler serves the catalog UI, its htmx fragments and the JSON search API.
type Handler struct {
	logger    *slog.Logger
	service   CatalogService
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, service CatalogService, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf}
}

// MountRoutes registers catalog routes on the root router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Post("/fetch", h.handleFetch)
	r.Post("/products", h.handleAddProduct)
	r.Get("/products/{id}", h.handleVariants)
	r.Delete("/products/{id}", h.handleDelete)
	r.Route("/api/products", func(r chi.Router) {
		r.Get("/search", h.handleSearchAPI)
		r.Post("/{id}/restore", h.handleRestore)
	})
	r.Get("/debug/fetch", h.handleDebugFetch)
}

type tableData struct {
	Products []catalog.Product
	Query    string
}

type variantsPageData struct {
	Product  catalog.Product
	Variants []catalog.Variant
}

type searchResult struct {
	ID     int64   `json:"id"`
	Title  string  `json:"title"`
	Vendor *string `json:"vendor"`
	Handle *string `json:"handle"`
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	products, err := h.service.SearchProducts(r.Context(), query)
	if err != nil {
		h.logger.Error("list products", slog.String("query", query), slog.Any("error", err))
		h.respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	data := tableData{Products: products, Query: query}
	if isHTMX(r) {
		h.renderFragment(w, "product-table", data)
		return
	}
	h.renderPage(w, r, "pages/index.html", "Products", data)
}

func (h *Handler) handleFetch(w http.ResponseWriter, r *http.Request) {
	// feed locations come from configuration only
	count, err := h.service.FetchAndStore(r.Context(), "")
	if err != nil {
		h.logger.Error("fetch feed", slog.Any("error", err))
		h.respondError(w, r, http.StatusBadGateway, err)
		return
	}
	h.logger.Info("feed synced from ui", slog.Int("count", count))
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		h.logger.Error("list products", slog.Any("error", err))
		h.respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	h.renderFragment(w, "product-table", tableData{Products: products})
}

func (h *Handler) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.respondError(w, r, http.StatusBadRequest, err)
		return
	}
	product, err := h.service.AddProduct(r.Context(), catalog.ProductInput{
		Title:  r.PostFormValue("title"),
		Handle: r.PostFormValue("handle"),
		Vendor: r.PostFormValue("vendor"),
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, catalog.ErrInvalidProduct) {
			status = http.StatusBadRequest
		} else {
			h.logger.Error("add product", slog.Any("error", err))
		}
		h.respondError(w, r, status, err)
		return
	}
	h.logger.Info("product added", slog.Int64("id", product.ID))
	h.renderFragment(w, "product-row", product)
}

func (h *Handler) handleVariants(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.logger.Error("get product", slog.Int64("id", id), slog.Any("error", err))
		h.respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	if product == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	variants, err := h.service.ListVariants(r.Context(), id)
	if err != nil {
		h.logger.Error("list variants", slog.Int64("id", id), slog.Any("error", err))
		h.respondError(w, r, http.StatusInternalServerError, err)
		return
	}
	h.renderPage(w, r, "pages/variants.html", product.Title, variantsPageData{Product: *product, Variants: variants})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		h.respondError(w, r, http.StatusBadRequest, fmt.Errorf("%w: invalid id", catalog.ErrProductNotFound))
		return
	}
	if err := h.service.DeleteProduct(r.Context(), id); err != nil {
		if !errors.Is(err, catalog.ErrProductNotFound) {
			h.logger.Error("delete product", slog.Int64("id", id), slog.Any("error", err))
		}
		h.respondError(w, r, http.StatusBadRequest, err)
		return
	}
	if isHTMX(r) {
		w.Header().Set("HX-Trigger", "productDeleted")
		w.Header().Set("HX-Reswap", "delete")
		w.Header().Set("HX-Trigger-After-Swap", "recountProducts")
		w.WriteHeader(http.StatusOK)
		return
	}
	h.redirectWithFlash(w, r, fmt.Sprintf("Product %d deleted", id))
}

func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		h.respondError(w, r, http.StatusBadRequest, fmt.Errorf("%w: invalid id", catalog.ErrNotInTrash))
		return
	}
	restored, err := h.service.RestoreProduct(r.Context(), id)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotInTrash) {
			h.logger.Error("restore product", slog.Int64("id", id), slog.Any("error", err))
		}
		h.respondError(w, r, http.StatusBadRequest, err)
		return
	}
	if isHTMX(r) {
		w.Header().Set("HX-Refresh", "true")
		w.WriteHeader(http.StatusOK)
		return
	}
	h.redirectWithFlash(w, r, fmt.Sprintf("Product %d restored as %d", id, restored.ID))
}

// redirectWithFlash sends plain form submissions back to the index, which shows msg once.
func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, msg string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: msg})
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleSearchAPI(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.SearchProducts(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.logger.Error("search products", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	results := make([]searchResult, 0, len(products))
	for _, p := range products {
		results = append(results, searchResult{ID: p.ID, Title: p.Title, Vendor: p.Vendor, Handle: p.Handle})
	}
	httpx.JSON(w, http.StatusOK, results)
}

func (h *Handler) handleDebugFetch(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.FetchAndStore(r.Context(), "")
	if err != nil {
		h.logger.Error("debug fetch", slog.Any("error", err))
		httpx.Text(w, http.StatusInternalServerError, "Fetch error: "+err.Error())
		return
	}
	httpx.Text(w, http.StatusOK, fmt.Sprintf("Fetched and upserted %d products", count))
}

func (h *Handler) renderPage(w http.ResponseWriter, r *http.Request, name, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	var csrfToken string
	var flash *shared.FlashMessage
	if sess != nil {
		csrfToken, _ = h.csrf.EnsureToken(r.Context(), sess)
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{Title: title, CSRFToken: csrfToken, Flash: flash, CurrentPath: r.URL.Path, Data: data}
	if err := h.templates.Render(w, name, viewData); err != nil {
		h.logger.Error("render page", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) renderFragment(w http.ResponseWriter, name string, data any) {
	if err := h.templates.RenderFragment(w, name, data); err != nil {
		h.logger.Error("render fragment", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// respondError retargets htmx requests at the page error box and answers others in plain text.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := userMessage(err)
	if isHTMX(r) {
		w.Header().Set("HX-Retarget", "#error-message")
		w.Header().Set("HX-Reswap", "innerHTML")
	}
	httpx.Text(w, status, msg)
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		return "Product not found."
	case errors.Is(err, catalog.ErrNotInTrash):
		return "Nothing to restore for this product."
	default:
		return shared.UserSafeMessage(err)
	}
}

func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
