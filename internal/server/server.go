// Package server wires configuration into the gateway pipeline and runs the
// gateway and admin listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/fabian4/gateway-lite/internal/auth"
	"github.com/fabian4/gateway-lite/internal/config"
	fwd "github.com/fabian4/gateway-lite/internal/forward"
	"github.com/fabian4/gateway-lite/internal/gwerr"
	"github.com/fabian4/gateway-lite/internal/handler"
	"github.com/fabian4/gateway-lite/internal/metrics"
	"github.com/fabian4/gateway-lite/internal/ratelimit"
	"github.com/fabian4/gateway-lite/internal/relay"
	"github.com/fabian4/gateway-lite/internal/router"
)

const shutdownTimeout = 5 * time.Second

var ginModeOnce sync.Once

// Server owns the gateway handler, its admin surface and their listeners.
type Server struct {
	cfg        *config.Config
	log        *zap.Logger
	routes     router.Resolver
	transports *fwd.Registry
	metrics    *metrics.Registry
	gateway    *handler.Gateway

	engine *gin.Engine
	admin  *gin.Engine
}

// New builds the route table, validator, forwarder and limiter from cfg.
func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	rt, err := router.New(cfg.Resolver, cfg.Routes)
	if err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}

	opts := fwd.DefaultOptions()
	opts.ResponseHeaderTimeout = cfg.Timeouts.Upstream
	opts.InsecureSkipVerify = cfg.UpstreamTLS.InsecureSkipVerify
	if cfg.UpstreamTLS.CAFile != "" {
		pool, err := fwd.LoadRootCAs(cfg.UpstreamTLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("upstream_tls: %w", err)
		}
		opts.RootCAs = pool
	}
	transports := fwd.NewRegistry(opts)

	reg := metrics.NewRegistry()
	gw := handler.NewGateway(rt, NewValidator(cfg.Auth),
		fwd.NewForwarder(transports, cfg.Timeouts.Upstream, cfg.Limits.MaxRequestBody), log)
	gw.Limiter = ratelimit.New(cfg.Routes)
	gw.Metrics = reg
	if cfg.AccessLog.Enabled {
		gw.AccessLog = log.Named("access")
		gw.AccessSampling = cfg.AccessLog.Sampling
	}

	s := &Server{
		cfg:        cfg,
		log:        log,
		routes:     rt,
		transports: transports,
		metrics:    reg,
		gateway:    gw,
	}
	s.engine = newGatewayEngine(gw, reg, log)
	s.admin = newAdminEngine(rt, reg)
	return s, nil
}

// NewValidator returns the validator for the configured scheme, or nil when no
// credential is configured, in which case protected routes reject everything.
func NewValidator(a config.Auth) auth.Validator {
	switch a.Scheme {
	case config.SchemeJWT:
		if a.JWT.Secret == "" {
			return nil
		}
		return &auth.JWT{Secret: []byte(a.JWT.Secret), Issuer: a.JWT.Issuer, Leeway: 30 * time.Second}
	default:
		if a.Token == "" {
			return nil
		}
		return auth.NewStaticToken(a.Token)
	}
}

// Handler is the gateway engine.
func (s *Server) Handler() http.Handler { return s.engine }

// AdminHandler serves /healthz, /metrics and /routes.
func (s *Server) AdminHandler() http.Handler { return s.admin }

var supportedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}

func newGatewayEngine(gw http.Handler, reg *metrics.Registry, log *zap.Logger) *gin.Engine {
	e := gin.New()
	e.RedirectTrailingSlash = false
	e.RedirectFixedPath = false
	e.HandleMethodNotAllowed = true
	e.Use(Recovery(log))

	h := gin.WrapH(gw)
	for _, m := range supportedMethods {
		e.Handle(m, "/*path", h)
	}
	e.NoMethod(rejectWith(gwerr.MethodNotAllowed, reg))
	e.NoRoute(rejectWith(gwerr.RouteNotFound, reg))
	return e
}

func rejectWith(k gwerr.Kind, reg *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		relay.Error(c.Writer, gwerr.New(k, "", nil))
		if reg == nil {
			return
		}
		reg.IncRequest("", c.Request.Method, strconv.Itoa(k.Status()))
		reg.IncFailure(string(k))
	}
}

func (s *Server) httpServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadTimeout:       s.cfg.Timeouts.Read,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.Timeouts.Write,
		IdleTimeout:       60 * time.Second,
	}
}

// Run listens on the configured addresses and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	gwLn, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	var adminLn net.Listener
	if s.cfg.AdminListen != "" {
		adminLn, err = net.Listen("tcp", s.cfg.AdminListen)
		if err != nil {
			_ = gwLn.Close()
			return fmt.Errorf("admin listen %s: %w", s.cfg.AdminListen, err)
		}
	}
	return s.Serve(ctx, gwLn, adminLn)
}

// Serve runs the gateway on gwLn and, when adminLn is non-nil, the admin
// endpoints on adminLn. It shuts both down gracefully once ctx is done or
// either server fails.
func (s *Server) Serve(ctx context.Context, gwLn, adminLn net.Listener) error {
	type unit struct {
		name string
		srv  *http.Server
		ln   net.Listener
	}
	units := []unit{{"gateway", s.httpServer(s.engine), gwLn}}
	if adminLn != nil {
		units = append(units, unit{"admin", s.httpServer(s.admin), adminLn})
	}

	errCh := make(chan error, len(units))
	for _, u := range units {
		s.log.Info("listening",
			zap.String("server", u.name),
			zap.String("addr", u.ln.Addr().String()),
			zap.Int("routes", len(s.routes.Routes())),
			zap.String("resolver", s.cfg.Resolver),
		)
		go func() {
			if err := u.srv.Serve(u.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s: %w", u.name, err)
			}
		}()
	}

	var errs *multierror.Error
	select {
	case <-ctx.Done():
		s.log.Info("shutting down")
	case err := <-errCh:
		s.log.Error("server failed", zap.Error(err))
		errs = multierror.Append(errs, err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, u := range units {
		if err := u.srv.Shutdown(shutdownCtx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s shutdown: %w", u.name, err))
		}
	}
	s.transports.CloseIdle()
	return errs.ErrorOrNil()
}
