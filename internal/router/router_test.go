package router

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabian4/gateway-lite/internal/gwerr"
	"github.com/fabian4/gateway-lite/internal/model"
)

func entry(key, raw string, auth bool) model.RouteEntry {
	u, _ := url.Parse(raw)
	return model.RouteEntry{Key: key, Upstream: u, RequiresAuth: auth}
}

func TestExact_ResolveFirstSegment(t *testing.T) {
	rt, err := New(ModeExact, []model.RouteEntry{
		entry("service1", "http://localhost:8001", false),
		entry("service2", "http://localhost:8002", true),
	})
	require.NoError(t, err)

	m, err := rt.Resolve("/service2/configurations")
	require.NoError(t, err)
	assert.Equal(t, "service2", m.Route.Key)
	assert.True(t, m.Route.RequiresAuth)
	assert.Equal(t, "service2/configurations", m.ForwardPath)

	m, err = rt.Resolve("/service1/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, "service1", m.Route.Key)
	assert.Equal(t, "service1/a/b/c", m.ForwardPath)

	// bare service segment still resolves
	m, err = rt.Resolve("/service1")
	require.NoError(t, err)
	assert.Equal(t, "service1", m.ForwardPath)
}

func TestExact_Miss(t *testing.T) {
	rt, err := New(ModeExact, []model.RouteEntry{entry("service1", "http://localhost:8001", false)})
	require.NoError(t, err)

	for _, p := range []string{"/", "", "/service10/home", "/Service1/home", "/unknown"} {
		_, err := rt.Resolve(p)
		assert.Equal(t, gwerr.RouteNotFound, gwerr.KindOf(err), "path %q", p)
	}
}

func TestExact_DuplicateKey(t *testing.T) {
	_, err := New(ModeExact, []model.RouteEntry{
		entry("s", "http://a", false),
		entry("s", "http://b", false),
	})
	require.Error(t, err)
}

func TestNew_RejectsMissingUpstream(t *testing.T) {
	for _, mode := range []string{ModeExact, ModePrefix} {
		_, err := New(mode, []model.RouteEntry{{Key: "/nil"}})
		require.Error(t, err, mode)
		assert.Contains(t, err.Error(), "no upstream host")

		_, err = New(mode, []model.RouteEntry{entry("/relative", "/relative/path", false)})
		require.Error(t, err, mode)
	}
}

func TestPrefix_FirstMatchInTableOrder(t *testing.T) {
	rt, err := New(ModePrefix, []model.RouteEntry{
		entry("/api", "http://short", false),
		entry("/api/v1", "http://long", false),
	})
	require.NoError(t, err)

	// no longest-prefix: "/api" is listed first and wins
	for i := 0; i < 5; i++ {
		m, err := rt.Resolve("/api/v1/items")
		require.NoError(t, err)
		assert.Equal(t, "/api", m.Route.Key)
		assert.Equal(t, "api/v1/items", m.ForwardPath)
	}
}

func TestPrefix_RawStringPrefix(t *testing.T) {
	rt, err := New(ModePrefix, []model.RouteEntry{
		entry("/service1", "http://localhost:8001", false),
		entry("/service2/", "http://localhost:8002", true),
	})
	require.NoError(t, err)

	m, err := rt.Resolve("/service10/home")
	require.NoError(t, err)
	assert.Equal(t, "/service1", m.Route.Key)

	m, err = rt.Resolve("/service2/home")
	require.NoError(t, err)
	assert.Equal(t, "/service2/", m.Route.Key)
	assert.Equal(t, "service2/home", m.ForwardPath)

	_, err = rt.Resolve("/other")
	assert.Equal(t, gwerr.RouteNotFound, gwerr.KindOf(err))
}

func TestNew_UnknownModeAndImmutability(t *testing.T) {
	_, err := New("longest", nil)
	require.Error(t, err)

	in := []model.RouteEntry{entry("service1", "http://a", false)}
	rt, err := New(ModeExact, in)
	require.NoError(t, err)
	in[0].Key = "mutated"

	_, err = rt.Resolve("/service1/x")
	require.NoError(t, err)

	out := rt.Routes()
	out[0].Key = "mutated"
	assert.Equal(t, "service1", rt.Routes()[0].Key)
}
