package routing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterMatch(t *testing.T) {
	r := New()
	r.Add(&Route{ID: "billing", Prefix: "/billing/", Methods: MethodSet([]string{"get", " post "})})
	r.Add(&Route{ID: "catchall", Prefix: "/", Methods: MethodSet([]string{"GET"})})

	rt, ok := r.Match(http.MethodPost, "/billing/invoices")
	require.True(t, ok)
	assert.Equal(t, "billing", rt.ID)

	rt, ok = r.Match("get", "/billing")
	require.True(t, ok)
	assert.Equal(t, "billing", rt.ID)

	// prefix match is per path segment
	rt, ok = r.Match(http.MethodGet, "/billingx")
	require.True(t, ok)
	assert.Equal(t, "catchall", rt.ID)

	_, ok = r.Match(http.MethodDelete, "/billing/1")
	assert.False(t, ok)

	assert.Len(t, r.Routes(), 2)
}

func TestRouteContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	_, ok := RouteFrom(req)
	assert.False(t, ok)

	rt := &Route{ID: "x"}
	got, ok := RouteFrom(WithRoute(req, rt))
	require.True(t, ok)
	assert.Same(t, rt, got)
}
