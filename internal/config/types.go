package config

import (
	"time"

	"github.com/fabian4/gateway-lite/internal/logging"
	"github.com/fabian4/gateway-lite/internal/model"
)

// Auth schemes.
const (
	SchemeStatic = "static"
	SchemeJWT    = "jwt"
)

// Config is the normalized gateway configuration.
type Config struct {
	Listen      string
	AdminListen string // empty disables the admin listener
	Resolver    string // router.ModeExact | router.ModePrefix
	Auth        Auth
	Routes      []model.RouteEntry // configured order
	Timeouts    Timeouts
	Limits      Limits
	UpstreamTLS UpstreamTLS
	Log         logging.Config
	AccessLog   AccessLog
}

type Auth struct {
	Scheme string
	Token  string // static: caller must send "Bearer <Token>"
	JWT    JWT
}

type JWT struct {
	Secret string
	Issuer string // optional
}

type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Upstream time.Duration
}

type Limits struct {
	MaxRequestBody int64 // bytes, 0 = unlimited
}

// UpstreamTLS applies to every https upstream.
type UpstreamTLS struct {
	CAFile             string // PEM bundle used as trusted roots; empty means the system pool
	InsecureSkipVerify bool
}

type AccessLog struct {
	Enabled  bool
	Sampling float64
}

// ProtectedRoutes reports how many routes require a credential.
func (c *Config) ProtectedRoutes() int {
	n := 0
	for _, r := range c.Routes {
		if r.RequiresAuth {
			n++
		}
	}
	return n
}
