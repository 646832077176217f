package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthEndpoint(t *testing.T) {
	r := createServer([]string{"http://localhost:5173"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", w.Body.String())
}

func TestEnvFallback(t *testing.T) {
	t.Setenv("PARTYARENA_TEST_KEY", "set")
	assert.Equal(t, "set", env("PARTYARENA_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", env("PARTYARENA_TEST_MISSING", "fallback"))
}
