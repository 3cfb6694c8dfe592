package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alturino/storefront/cart/pkg/store"
	"github.com/Alturino/storefront/internal/storage"
)

type cartResponse struct {
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Data       struct {
		Cart struct {
			Lines []struct {
				ID        string `json:"id"`
				Quantity  int    `json:"quantity"`
				LineTotal string `json:"lineTotal"`
			} `json:"lines"`
			ItemCount int    `json:"itemCount"`
			Subtotal  string `json:"subtotal"`
		} `json:"cart"`
	} `json:"data"`
}

func setup() (*mux.Router, *store.Store) {
	s := store.New(context.Background(), storage.NewMemory())
	router := mux.NewRouter()
	AttachCartController(router, s)
	return router, s
}

func serve(t *testing.T, router *mux.Router, method string, path string, body string) (int, cartResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	res := cartResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	return rec.Code, res
}

func TestCartController(t *testing.T) {
	router, _ := setup()

	code, res := serve(t, router, http.MethodPost, "/cart/lines", `{"id":"sku-1","price":"100","quantity":2}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "200", res.Data.Cart.Subtotal)

	code, res = serve(t, router, http.MethodPost, "/cart/lines/sku-1/increment", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, res.Data.Cart.Lines, 1)
	assert.Equal(t, 3, res.Data.Cart.Lines[0].Quantity)
	assert.Equal(t, "300", res.Data.Cart.Lines[0].LineTotal)
	assert.Equal(t, "300", res.Data.Cart.Subtotal)

	_, res = serve(t, router, http.MethodPost, "/cart/lines/sku-1/decrement", "")
	assert.Equal(t, 2, res.Data.Cart.ItemCount)

	_, res = serve(t, router, http.MethodGet, "/cart", "")
	assert.Equal(t, "200", res.Data.Cart.Subtotal)

	_, res = serve(t, router, http.MethodDelete, "/cart/lines/sku-1", "")
	assert.Empty(t, res.Data.Cart.Lines)
	assert.Equal(t, "0", res.Data.Cart.Subtotal)
}

func TestCartControllerClear(t *testing.T) {
	router, s := setup()
	s.AddLine(context.Background(), store.Item{ID: "sku-1"}, 1)

	code, res := serve(t, router, http.MethodDelete, "/cart", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, res.Data.Cart.Lines)
	assert.True(t, s.Snapshot().Empty())
}

func TestCartControllerAddLineRejects(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{name: "given malformed json should fail", body: `{"id":`},
		{name: "given missing id should fail", body: `{"price":"1","quantity":1}`},
		{name: "given zero price should fail", body: `{"id":"sku-1","price":"0","quantity":1}`},
		{name: "given negative quantity should fail", body: `{"id":"sku-1","price":"1","quantity":-1}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			router, s := setup()
			code, res := serve(t, router, http.MethodPost, "/cart/lines", tc.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, "failed", res.Status)
			assert.True(t, s.Snapshot().Empty())
		})
	}
}
