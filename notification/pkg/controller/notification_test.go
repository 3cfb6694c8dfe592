package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alturino/storefront/internal/schedule"
	"github.com/Alturino/storefront/notification/pkg/queue"
)

type notificationsResponse struct {
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	Data       struct {
		Visible *queue.Notification  `json:"visible"`
		Pending []queue.Notification `json:"pending"`
	} `json:"data"`
}

func setup() (*mux.Router, *queue.Queue) {
	q := queue.New(schedule.NewManual(time.Date(2024, time.December, 1, 9, 0, 0, 0, time.UTC)))
	router := mux.NewRouter()
	AttachNotificationController(router, q)
	return router, q
}

func serve(t *testing.T, router *mux.Router, method string, path string) (int, notificationsResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	res := notificationsResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	return rec.Code, res
}

func TestNotificationController(t *testing.T) {
	router, q := setup()
	c := context.Background()
	first := q.Enqueue(c, queue.SeverityError, "A", 0)
	q.Enqueue(c, queue.SeverityInfo, "B", 0)

	code, res := serve(t, router, http.MethodGet, "/notifications")
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, res.Data.Visible)
	assert.Equal(t, "A", res.Data.Visible.Message)
	require.Len(t, res.Data.Pending, 1)
	assert.Equal(t, "B", res.Data.Pending[0].Message)

	code, _ = serve(t, router, http.MethodDelete, "/notifications/"+res.Data.Pending[0].ID)
	assert.Equal(t, http.StatusNotFound, code, "queued notifications cannot be dismissed")

	code, _ = serve(t, router, http.MethodDelete, "/notifications/"+first)
	assert.Equal(t, http.StatusOK, code)
	_, ok := q.Visible()
	assert.False(t, ok)

	code, _ = serve(t, router, http.MethodDelete, "/notifications")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, q.Pending())

	_, res = serve(t, router, http.MethodGet, "/notifications")
	assert.Nil(t, res.Data.Visible)
	assert.Empty(t, res.Data.Pending)
}
