package handler

import (
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fabian4/gateway-lite/internal/auth"
	fwd "github.com/fabian4/gateway-lite/internal/forward"
	"github.com/fabian4/gateway-lite/internal/gwerr"
	"github.com/fabian4/gateway-lite/internal/metrics"
	"github.com/fabian4/gateway-lite/internal/ratelimit"
	"github.com/fabian4/gateway-lite/internal/relay"
	"github.com/fabian4/gateway-lite/internal/router"
)

// Gateway runs one inbound request through resolve, authorize, rate limit,
// forward and relay. All fields are read-only once serving starts.
type Gateway struct {
	Routes    router.Resolver
	Validator auth.Validator
	Forwarder *fwd.Forwarder
	Limiter   *ratelimit.Limiter // optional
	Metrics   *metrics.Registry  // optional
	Log       *zap.Logger

	// AccessLog receives one entry per request; nil disables it.
	AccessLog      *zap.Logger
	AccessSampling float64 // 0..1, 1 logs everything
}

// denyAll is used when no validator is configured, so protected routes stay closed.
var denyAll = auth.ValidatorFunc(func(credential string) error {
	if credential == "" {
		return auth.ErrMissing
	}
	return auth.ErrInvalid
})

func NewGateway(rt router.Resolver, v auth.Validator, f *fwd.Forwarder, log *zap.Logger) *Gateway {
	if v == nil {
		v = denyAll
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{Routes: rt, Validator: v, Forwarder: f, Log: log, AccessSampling: 1}
}

var _ http.Handler = (*Gateway)(nil)

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lw := &loggingResponseWriter{ResponseWriter: w}

	reqID := r.Header.Get(fwd.HeaderRequestID)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	lw.Header().Set(fwd.HeaderRequestID, reqID)

	var routeKey, upstreamAddr string
	var failure gwerr.Kind
	defer func() {
		status := lw.statusCode
		if status == 0 {
			status = http.StatusOK
		}
		g.logAccess(r, start, status, lw.bytes, reqID, routeKey, upstreamAddr, failure)
		if g.Metrics != nil {
			g.Metrics.IncRequest(routeKey, r.Method, strconv.Itoa(status))
			if failure != "" {
				g.Metrics.IncFailure(string(failure))
			}
		}
	}()

	fail := func(err error) {
		ge := gwerr.From(err)
		if ge.Route == "" {
			ge.Route = routeKey
		}
		failure = ge.Kind
		g.logFailure(ge, reqID)
		relay.Error(lw, ge)
	}

	m, err := g.Routes.Resolve(r.URL.EscapedPath())
	if err != nil {
		fail(err)
		return
	}
	routeKey = m.Route.Key

	if m.Route.RequiresAuth {
		if err := g.authorize(r, routeKey); err != nil {
			fail(err)
			return
		}
	}

	if !g.Limiter.Allow(routeKey) {
		fail(gwerr.New(gwerr.RateLimited, routeKey, nil))
		return
	}

	upStart := time.Now()
	res, err := g.Forwarder.Forward(r, m, reqID)
	if g.Metrics != nil {
		g.Metrics.ObserveLatency(routeKey, time.Since(upStart))
	}
	if err != nil {
		fail(err)
		return
	}
	upstreamAddr = res.Upstream

	if err := relay.Response(lw, res, routeKey); err != nil {
		fail(err)
	}
}

func (g *Gateway) authorize(r *http.Request, route string) error {
	err := g.Validator.Validate(r.Header.Get("Authorization"))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, auth.ErrMissing):
		return gwerr.New(gwerr.AuthMissing, route, err)
	default:
		return gwerr.New(gwerr.AuthInvalid, route, err)
	}
}

func (g *Gateway) logFailure(ge *gwerr.Error, reqID string) {
	fields := []zap.Field{
		zap.String("kind", string(ge.Kind)),
		zap.String("route", ge.Route),
		zap.String("request_id", reqID),
	}
	if ge.Cause != nil {
		fields = append(fields, zap.Error(ge.Cause))
	}
	switch ge.Kind {
	case gwerr.UpstreamUnreachable, gwerr.UpstreamTimeout, gwerr.UpstreamMalformedResponse:
		g.Log.Warn("upstream failure", fields...)
	case gwerr.Internal:
		g.Log.Error("request failed", fields...)
	default:
		g.Log.Debug("request rejected", fields...)
	}
}

func (g *Gateway) logAccess(r *http.Request, start time.Time, status int, written int64, reqID, route, upstream string, failure gwerr.Kind) {
	if g.AccessLog == nil {
		return
	}
	if g.AccessSampling < 1.0 && rand.Float64() >= g.AccessSampling {
		return
	}
	fields := []zap.Field{
		zap.Time("time", start),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("protocol", r.Proto),
		zap.Int("status", status),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.String("remote_ip", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
		zap.String("referer", r.Referer()),
		zap.String("request_id", reqID),
		zap.Int64("bytes_written", written),
	}
	if route != "" {
		fields = append(fields, zap.String("route", route))
	}
	if upstream != "" {
		fields = append(fields, zap.String("upstream", upstream))
	}
	if failure != "" {
		fields = append(fields, zap.String("error_kind", string(failure)))
	}
	g.AccessLog.Info("access", fields...)
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int64
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	if w.statusCode == 0 {
		w.statusCode = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *loggingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
