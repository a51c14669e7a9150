package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckUnconfiguredProbes(t *testing.T) {
	h := NewHealthChecker(nil, "")

	out := h.Check(context.Background())

	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, "unconfigured", out.Database)
	assert.Equal(t, "unconfigured", out.Generation)
}

func TestCheckGenerationReachable(t *testing.T) {
	// 401 still counts as reachable; only transport failures degrade.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	h := NewHealthChecker(nil, srv.URL)

	out := h.Check(context.Background())
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, "ok", out.Generation)
}

func TestCheckGenerationUnreachableDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	h := NewHealthChecker(nil, srv.URL)

	out := h.Check(context.Background())
	assert.Equal(t, "degraded", out.Status)
	assert.NotEqual(t, "ok", out.Generation)
}
