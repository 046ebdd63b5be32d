package model

import "net/url"

// RouteEntry maps a route key to one upstream.
type RouteEntry struct {
	Key          string   // service name (exact mode) or path prefix (prefix mode)
	Upstream     *url.URL // normalized, absolute http(s)
	RequiresAuth bool
	Proto        string     // transport name: "http1" | "auto"
	RateLimit    *RateLimit // optional
}

// RateLimit is a token bucket for a single route.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}
