package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestTimeoutBelowWriteTimeout(t *testing.T) {
	srv := newServer(":0", http.NotFoundHandler())
	assert.Less(t, requestTimeout, srv.WriteTimeout)
	assert.Equal(t, ":0", srv.Addr)
}

func TestSlowRequestGetsGatewayTimeout(t *testing.T) {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(20 * time.Millisecond))
	r.Get("/slow", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	srv := httptest.NewUnstartedServer(r)
	srv.Config = newServer("", r)
	srv.Start()
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/slow", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}
