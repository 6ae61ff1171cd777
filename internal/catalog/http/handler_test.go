package cataloghttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmist/catalog-sync/internal/catalog"
	"github.com/techmist/catalog-sync/internal/shared"
	"github.com/techmist/catalog-sync/internal/view"
)

const (
	testFeedURL   = "https://feed.test/products.json"
	testMirrorURL = "https://mirror.test/products.json"
)

type stubFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	err    error
	urls   []string
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	s.urls = append(s.urls, url)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return []byte(s.bodies[url]), nil
}

type testEnv struct {
	router  http.Handler
	repo    *catalog.MemoryRepository
	service *catalog.Service
	fetcher *stubFetcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	templates, err := view.NewEngine()
	require.NoError(t, err)

	repo := catalog.NewMemoryRepository()
	fetcher := &stubFetcher{bodies: map[string]string{
		testFeedURL: `{"products":[{"id":101,"title":"Tee","handle":"tee","variants":[{"id":1001,"title":"S","sku":"TEE-S","price":"19.00"}]}]}`,
	}}
	service := catalog.NewService(repo, fetcher, catalog.NewTrash(client, time.Hour),
		catalog.ServiceConfig{FeedURL: testFeedURL, FallbackURL: testMirrorURL}, nil, nil)

	handler := NewHandler(nil, service, templates, shared.NewCSRFManager("secret"))
	r := chi.NewRouter()
	handler.MountRoutes(r)
	return &testEnv{router: r, repo: repo, service: service, fetcher: fetcher}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) addProduct(t *testing.T, title, vendor string) catalog.Product {
	t.Helper()
	p, err := e.service.AddProduct(context.Background(), catalog.ProductInput{Title: title, Vendor: vendor})
	require.NoError(t, err)
	return p
}

func htmx(req *http.Request) *http.Request {
	req.Header.Set("HX-Request", "true")
	return req
}

func TestIndexRendersFullPageOrFragment(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "Linen Shirt", "Acme")

	full := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, full.Code)
	assert.Contains(t, full.Body.String(), "<html")
	assert.Contains(t, full.Body.String(), "Linen Shirt")

	fragment := env.do(htmx(httptest.NewRequest(http.MethodGet, "/", nil)))
	require.Equal(t, http.StatusOK, fragment.Code)
	assert.NotContains(t, fragment.Body.String(), "<html")
	assert.Contains(t, fragment.Body.String(), `id="product-table"`)
	assert.Contains(t, fragment.Body.String(), "Linen Shirt")
}

func TestIndexFiltersByQuery(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "Linen Shirt", "Acme")
	env.addProduct(t, "Wool Hat", "Northwind")

	rr := env.do(htmx(httptest.NewRequest(http.MethodGet, "/?q=northWIND", nil)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Wool Hat")
	assert.NotContains(t, rr.Body.String(), "Linen Shirt")
}

func TestFetchReturnsRefreshedTable(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(htmx(httptest.NewRequest(http.MethodPost, "/fetch", nil)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Tee")

	products, err := env.service.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)
}

func TestFetchFailureRetargetsErrorBox(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.err = &catalog.FetchError{URL: testFeedURL, Kind: catalog.FetchKindStatus, StatusCode: 503}

	rr := env.do(htmx(httptest.NewRequest(http.MethodPost, "/fetch", nil)))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "#error-message", rr.Header().Get("HX-Retarget"))
	assert.Equal(t, "innerHTML", rr.Header().Get("HX-Reswap"))
	assert.Equal(t, "The product feed answered with HTTP 503.", rr.Body.String())
}

func TestAddProductReturnsRowFragment(t *testing.T) {
	env := newTestEnv(t)
	form := url.Values{"title": {"Canvas Bag"}, "handle": {" "}, "vendor": {"Acme"}}
	req := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := env.do(htmx(req))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "<tr id=\"product-1\">")
	assert.Contains(t, rr.Body.String(), "Canvas Bag")

	stored, err := env.service.GetProduct(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.Handle)
	assert.Nil(t, stored.ExternalID)
	assert.Equal(t, "Acme", catalog.Deref(stored.Vendor))
}

func TestAddProductRequiresTitle(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/products", strings.NewReader("title=++&vendor=Acme"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := env.do(htmx(req))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "#error-message", rr.Header().Get("HX-Retarget"))
	assert.Equal(t, "Product title is required.", rr.Body.String())
}

func TestVariantsPage(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.FetchAndStore(context.Background(), "")
	require.NoError(t, err)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/products/1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "TEE-S")
	assert.Contains(t, rr.Body.String(), "19.00")

	missing := env.do(httptest.NewRequest(http.MethodGet, "/products/999", nil))
	assert.Equal(t, http.StatusSeeOther, missing.Code)
	assert.Equal(t, "/", missing.Header().Get("Location"))

	invalid := env.do(httptest.NewRequest(http.MethodGet, "/products/abc", nil))
	assert.Equal(t, http.StatusSeeOther, invalid.Code)
}

func TestDeleteAndRestoreOverHTMX(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.FetchAndStore(context.Background(), "")
	require.NoError(t, err)

	rr := env.do(htmx(httptest.NewRequest(http.MethodDelete, "/products/1", nil)))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "productDeleted", rr.Header().Get("HX-Trigger"))
	assert.Equal(t, "delete", rr.Header().Get("HX-Reswap"))
	assert.Equal(t, "recountProducts", rr.Header().Get("HX-Trigger-After-Swap"))
	assert.Empty(t, rr.Body.String())

	variants, err := env.service.ListVariants(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, variants)

	restore := env.do(htmx(httptest.NewRequest(http.MethodPost, "/api/products/1/restore", nil)))
	require.Equal(t, http.StatusOK, restore.Code)
	assert.Equal(t, "true", restore.Header().Get("HX-Refresh"))

	products, err := env.service.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Tee", products[0].Title)
	assert.NotEqual(t, int64(1), products[0].ID)
	assert.Nil(t, products[0].ExternalID)

	again := env.do(httptest.NewRequest(http.MethodPost, "/api/products/1/restore", nil))
	assert.Equal(t, http.StatusBadRequest, again.Code)
	assert.Equal(t, "Nothing to restore for this product.", again.Body.String())
}

func TestDeletePlainAndMissing(t *testing.T) {
	env := newTestEnv(t)
	p := env.addProduct(t, "Mug", "")

	rr := env.do(httptest.NewRequest(http.MethodDelete, "/products/"+strconv.FormatInt(p.ID, 10), nil))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))

	missing := env.do(htmx(httptest.NewRequest(http.MethodDelete, "/products/42", nil)))
	assert.Equal(t, http.StatusBadRequest, missing.Code)
	assert.Equal(t, "#error-message", missing.Header().Get("HX-Retarget"))
	assert.Equal(t, "Product not found.", missing.Body.String())
}

func TestSearchAPI(t *testing.T) {
	env := newTestEnv(t)
	env.addProduct(t, "Linen Shirt", "Acme")
	env.addProduct(t, "Wool Hat", "")

	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/products/search?q=ACME", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var results []searchResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "Linen Shirt", results[0].Title)
	assert.Equal(t, "Acme", catalog.Deref(results[0].Vendor))

	all := env.do(httptest.NewRequest(http.MethodGet, "/api/products/search?q=", nil))
	require.NoError(t, json.Unmarshal(all.Body.Bytes(), &results))
	assert.Len(t, results, 2)
}

func TestDebugFetch(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/debug/fetch", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Fetched and upserted 1 products", rr.Body.String())

	env.fetcher.err = errors.New("connection refused")
	failed := env.do(httptest.NewRequest(http.MethodGet, "/debug/fetch", nil))
	assert.Equal(t, http.StatusInternalServerError, failed.Code)
	assert.Equal(t, "Fetch error: connection refused", failed.Body.String())
}

func TestFetchRoutesIgnoreURLParameter(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.bodies["http://10.0.0.1/admin"] = `{"products":[{"id":666,"title":"Injected","variants":[]}]}`

	form := url.Values{"url": {"http://10.0.0.1/admin"}}
	req := httptest.NewRequest(http.MethodPost, "/fetch", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := env.do(htmx(req))
	require.Equal(t, http.StatusOK, rr.Code)

	debug := env.do(httptest.NewRequest(http.MethodGet, "/debug/fetch?url=http://10.0.0.1/admin", nil))
	require.Equal(t, http.StatusOK, debug.Code)
	assert.Equal(t, "Fetched and upserted 1 products", debug.Body.String())

	assert.Equal(t, []string{testFeedURL, testFeedURL}, env.fetcher.urls)
	products, err := env.service.SearchProducts(context.Background(), "Injected")
	require.NoError(t, err)
	assert.Empty(t, products)
}

func TestPlainDeleteAndRestoreFlashOnIndex(t *testing.T) {
	env := newTestEnv(t)
	p := env.addProduct(t, "Mug", "")
	sess := &shared.Session{ID: "s1"}
	withSession := func(req *http.Request) *http.Request {
		return req.WithContext(shared.ContextWithSession(req.Context(), sess))
	}
	path := "/products/" + strconv.FormatInt(p.ID, 10)

	rr := env.do(withSession(httptest.NewRequest(http.MethodDelete, path, nil)))
	require.Equal(t, http.StatusSeeOther, rr.Code)

	index := env.do(withSession(httptest.NewRequest(http.MethodGet, "/", nil)))
	require.Equal(t, http.StatusOK, index.Code)
	assert.Contains(t, index.Body.String(), `<div class="flash flash-success">Product 1 deleted</div>`)

	shown := env.do(withSession(httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.NotContains(t, shown.Body.String(), "Product 1 deleted")

	restore := env.do(withSession(httptest.NewRequest(http.MethodPost, "/api/products/1/restore", nil)))
	require.Equal(t, http.StatusSeeOther, restore.Code)
	flash := sess.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "Product 1 restored as 2", flash.Message)
}
