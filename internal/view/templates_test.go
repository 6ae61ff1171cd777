package view

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techmist/catalog-sync/internal/catalog"
)

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine()
	assert.NoError(t, err, "Templates should parse without error")
	assert.NotNil(t, engine)
}

func TestRenderPageIncludesCSRFHeader(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	err = engine.Render(rr, "pages/index.html", TemplateData{
		Title:     "Products",
		CSRFToken: "tok123",
		Data: struct {
			Products []catalog.Product
			Query    string
		}{Products: []catalog.Product{}},
	})
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), "tok123")
	assert.Contains(t, rr.Body.String(), `id="product-table"`)
}

func TestRenderFragmentWithoutEngine(t *testing.T) {
	var engine *Engine
	err := engine.RenderFragment(httptest.NewRecorder(), "product-table", nil)
	assert.Error(t, err)
}

func TestRenderTableListsProducts(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	vendor := "Acme"
	rr := httptest.NewRecorder()
	err = engine.RenderFragment(rr, "product-table", struct {
		Products []catalog.Product
		Query    string
	}{Products: []catalog.Product{{ID: 3, Title: "Linen Shirt", Vendor: &vendor}}})
	require.NoError(t, err)
	assert.Contains(t, rr.Body.String(), `<tr id="product-3">`)
	assert.Contains(t, rr.Body.String(), "Acme")
}
