package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fabian4/gateway-lite/internal/metrics"
	"github.com/fabian4/gateway-lite/internal/router"
	"github.com/fabian4/gateway-lite/internal/version"
)

type routeView struct {
	Key          string         `json:"key"`
	URL          string         `json:"url"`
	RequiresAuth bool           `json:"requires_auth"`
	Proto        string         `json:"proto,omitempty"`
	RateLimit    *rateLimitView `json:"rate_limit,omitempty"`
}

type rateLimitView struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

func newAdminEngine(rt router.Resolver, reg *metrics.Registry) *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery())

	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": version.Value,
			"routes":  len(rt.Routes()),
		})
	})
	e.GET("/metrics", gin.WrapH(reg.Handler()))
	e.GET("/routes", func(c *gin.Context) {
		c.JSON(http.StatusOK, routeViews(rt))
	})
	return e
}

func routeViews(rt router.Resolver) []routeView {
	entries := rt.Routes()
	out := make([]routeView, 0, len(entries))
	for _, r := range entries {
		v := routeView{
			Key:          r.Key,
			RequiresAuth: r.RequiresAuth,
			Proto:        r.Proto,
		}
		if r.Upstream != nil {
			v.URL = r.Upstream.String()
		}
		if r.RateLimit != nil {
			v.RateLimit = &rateLimitView{RequestsPerSecond: r.RateLimit.RequestsPerSecond, Burst: r.RateLimit.Burst}
		}
		out = append(out, v)
	}
	return out
}
