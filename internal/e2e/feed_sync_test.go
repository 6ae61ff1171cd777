package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmist/catalog-sync/internal/app"
	cataloghttp "github.com/techmist/catalog-sync/internal/catalog/http"
	"github.com/techmist/catalog-sync/internal/observability"
	"github.com/techmist/catalog-sync/internal/shared"
	_ "github.com/techmist/catalog-sync/internal/testing/guard"
	"github.com/techmist/catalog-sync/internal/view"
)

const mirrorFeed = `{"products":[
  {"id":501,"title":"Rain Jacket","handle":"rain-jacket","vendor":"ignored","variants":[
    {"id":9001,"title":"M","sku":"RJ-M","price":"89.00"},
    {"id":9002,"title":"L","sku":"RJ-L","price":"89.00"}]},
  {"id":502,"title":"Beanie","handle":"beanie","variants":[]}
]}`

type feedServers struct {
	primary     *httptest.Server
	mirror      *httptest.Server
	primaryHits atomic.Int32
	mirrorHits  atomic.Int32
}

func startFeeds(t *testing.T, primaryBody string) *feedServers {
	t.Helper()
	fs := &feedServers{}
	fs.primary = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.primaryHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(primaryBody))
	}))
	fs.mirror = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mirrorHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(mirrorFeed))
	}))
	t.Cleanup(fs.primary.Close)
	t.Cleanup(fs.mirror.Close)
	return fs
}

func newApp(t *testing.T, feeds *feedServers) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &app.Config{
		AppEnv:             "test",
		AppRequestTimeout:  5 * time.Second,
		StoreDriver:        app.StoreDriverMemory,
		RateLimitPerMinute: 1000,
		Catalog: app.CatalogConfig{
			FeedURL:        feeds.primary.URL + "/products.json",
			FallbackURL:    feeds.mirror.URL + "/products.json",
			ConnectTimeout: time.Second,
			ReadTimeout:    2 * time.Second,
			TrashTTL:       time.Hour,
		},
	}
	metrics := observability.NewMetrics()
	service, cleanup, err := app.BuildCatalogService(context.Background(), app.CatalogDeps{Config: cfg, Redis: client, Observer: metrics})
	require.NoError(t, err)
	t.Cleanup(cleanup)

	templates, err := view.NewEngine()
	require.NoError(t, err)
	csrf := shared.NewCSRFManager("e2e", "/api/", "/debug/", "/jobs/")
	return app.NewRouter(app.RouterParams{
		Config:         cfg,
		SessionManager: shared.NewSessionManager(client, "catalog_session", "test-secret", time.Hour, false),
		CSRFManager:    csrf,
		CatalogHandler: cataloghttp.NewHandler(nil, service, templates, csrf),
		Metrics:        metrics,
	})
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

type searchHit struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

func TestEmptyPrimaryFallsBackToMirror(t *testing.T) {
	feeds := startFeeds(t, `{"products":[]}`)
	h := newApp(t, feeds)

	rr := get(t, h, "/debug/fetch")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Fetched and upserted 2 products", rr.Body.String())
	assert.EqualValues(t, 1, feeds.primaryHits.Load())
	assert.EqualValues(t, 1, feeds.mirrorHits.Load())

	search := get(t, h, "/api/products/search?q=rain")
	require.Equal(t, http.StatusOK, search.Code)
	var hits []searchHit
	require.NoError(t, json.Unmarshal(search.Body.Bytes(), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, "Rain Jacket", hits[0].Title)

	page := get(t, h, "/products/1")
	require.Equal(t, http.StatusOK, page.Code)
	assert.Contains(t, page.Body.String(), "RJ-M")
	assert.Contains(t, page.Body.String(), "RJ-L")

	metrics := get(t, h, "/metrics").Body.String()
	assert.Contains(t, metrics, `catalog_feed_fetch_total{outcome="empty",source="primary"} 1`)
	assert.Contains(t, metrics, `catalog_feed_fetch_total{outcome="ok",source="fallback"} 1`)
}

func TestRepeatedSyncIsIdempotent(t *testing.T) {
	feeds := startFeeds(t, mirrorFeed)
	h := newApp(t, feeds)

	for i := 0; i < 3; i++ {
		rr := get(t, h, "/debug/fetch")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "Fetched and upserted 2 products", rr.Body.String())
	}
	assert.EqualValues(t, 0, feeds.mirrorHits.Load())

	var hits []searchHit
	require.NoError(t, json.Unmarshal(get(t, h, "/api/products/search").Body.Bytes(), &hits))
	assert.Len(t, hits, 2)

	metrics := get(t, h, "/metrics").Body.String()
	assert.Contains(t, metrics, `catalog_sync_rows_total{change="created",entity="variant"} 2`)
	assert.Contains(t, metrics, `catalog_sync_total{status="success"} 3`)
}

func TestRequestCannotRedirectFetch(t *testing.T) {
	feeds := startFeeds(t, mirrorFeed)
	var internalHits atomic.Int32
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		internalHits.Add(1)
		_, _ = w.Write([]byte(`{"products":[{"id":501,"title":"Injected","variants":[]}]}`))
	}))
	t.Cleanup(internal.Close)
	h := newApp(t, feeds)

	rr := get(t, h, "/debug/fetch?url="+internal.URL+"/admin/secret")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Fetched and upserted 2 products", rr.Body.String())
	assert.EqualValues(t, 0, internalHits.Load())
	assert.EqualValues(t, 1, feeds.primaryHits.Load())

	var hits []searchHit
	require.NoError(t, json.Unmarshal(get(t, h, "/api/products/search?q=Injected").Body.Bytes(), &hits))
	assert.Empty(t, hits)
}

func TestMalformedFeedReportsError(t *testing.T) {
	feeds := startFeeds(t, `{"products":[{"title":"no id"}]}`)
	h := newApp(t, feeds)

	rr := get(t, h, "/debug/fetch")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "Fetch error: ")
	assert.Contains(t, rr.Body.String(), "products[0].id")

	metrics := get(t, h, "/metrics").Body.String()
	assert.Contains(t, metrics, `catalog_sync_total{status="failure"} 1`)
	assert.Contains(t, metrics, `catalog_feed_fetch_total{outcome="decode_error",source="primary"} 1`)
}
