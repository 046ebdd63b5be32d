package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	fwd "github.com/fabian4/gateway-lite/internal/forward"
	"github.com/fabian4/gateway-lite/internal/logging"
	"github.com/fabian4/gateway-lite/internal/model"
	"github.com/fabian4/gateway-lite/internal/router"
)

const (
	defaultListen      = ":8000"
	defaultAdminListen = ":9000"
	defaultUpstream    = 30 * time.Second
)

type rawConfig struct {
	Listen string `yaml:"listen"`
	Admin  struct {
		Listen *string `yaml:"listen"`
	} `yaml:"admin"`
	Resolver string `yaml:"resolver"`
	Auth     struct {
		Scheme string `yaml:"scheme"`
		Token  string `yaml:"token"`
		JWT    struct {
			Secret string `yaml:"secret"`
			Issuer string `yaml:"issuer"`
		} `yaml:"jwt"`
	} `yaml:"auth"`
	Routes []struct {
		Key          string `yaml:"key"`
		URL          string `yaml:"url"`
		RequiresAuth bool   `yaml:"requires_auth"`
		Proto        string `yaml:"proto"`
		RateLimit    *struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"routes"`
	Timeouts struct {
		Read     string `yaml:"read"`
		Write    string `yaml:"write"`
		Upstream string `yaml:"upstream"`
	} `yaml:"timeouts"`
	Limits struct {
		MaxRequestBody int64 `yaml:"max_request_body"`
	} `yaml:"limits"`
	UpstreamTLS struct {
		CAFile             string `yaml:"ca_file"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	} `yaml:"upstream_tls"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
	AccessLog struct {
		Enabled  *bool    `yaml:"enabled"`
		Sampling *float64 `yaml:"sampling"`
	} `yaml:"access_log"`
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse validates a YAML document. Every problem found is reported in the
// returned error, not just the first one.
func Parse(b []byte) (*Config, error) {
	var rc rawConfig
	if err := yaml.Unmarshal(b, &rc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}

	var errs *multierror.Error
	c := &Config{
		Listen:      strings.TrimSpace(rc.Listen),
		AdminListen: defaultAdminListen,
		Resolver:    strings.ToLower(strings.TrimSpace(rc.Resolver)),
	}
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if rc.Admin.Listen != nil {
		c.AdminListen = strings.TrimSpace(*rc.Admin.Listen)
	}

	// resolver
	switch c.Resolver {
	case "":
		c.Resolver = router.ModeExact
	case router.ModeExact, router.ModePrefix:
	default:
		errs = multierror.Append(errs, fmt.Errorf("resolver: unknown mode %q", rc.Resolver))
	}

	// routes
	if len(rc.Routes) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("routes: at least one is required"))
	}
	seen := make(map[string]bool, len(rc.Routes))
	for i, r := range rc.Routes {
		key := strings.TrimSpace(r.Key)
		switch {
		case key == "":
			errs = multierror.Append(errs, fmt.Errorf("routes[%d]: key is required", i))
		case seen[key]:
			errs = multierror.Append(errs, fmt.Errorf("routes[%d]: duplicate key %q", i, key))
		case c.Resolver == router.ModeExact && strings.Contains(key, "/"):
			errs = multierror.Append(errs, fmt.Errorf("routes[%d]: exact key %q must be a single segment", i, key))
		case c.Resolver == router.ModePrefix && !strings.HasPrefix(key, "/"):
			errs = multierror.Append(errs, fmt.Errorf("routes[%d]: prefix key %q must start with '/'", i, key))
		}
		seen[key] = true

		u, err := url.Parse(strings.TrimSpace(r.URL))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("routes[%d].url: %v", i, err))
		} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = multierror.Append(errs, fmt.Errorf("routes[%d].url: must be http(s) URL with host", i))
		}

		proto := strings.ToLower(strings.TrimSpace(r.Proto))
		if proto == "" {
			proto = fwd.ProtoHTTP1
		}
		if proto != fwd.ProtoHTTP1 && proto != fwd.ProtoAuto {
			errs = multierror.Append(errs, fmt.Errorf("routes[%d]: unknown proto %q", i, r.Proto))
		}

		entry := model.RouteEntry{
			Key:          key,
			Upstream:     u,
			RequiresAuth: r.RequiresAuth,
			Proto:        proto,
		}
		if rl := r.RateLimit; rl != nil {
			if rl.RequestsPerSecond <= 0 {
				errs = multierror.Append(errs, fmt.Errorf("routes[%d].rate_limit: requests_per_second must be > 0", i))
			}
			if rl.Burst < 0 {
				errs = multierror.Append(errs, fmt.Errorf("routes[%d].rate_limit: burst must be >= 0", i))
			}
			entry.RateLimit = &model.RateLimit{RequestsPerSecond: rl.RequestsPerSecond, Burst: rl.Burst}
		}
		c.Routes = append(c.Routes, entry)
	}

	// auth
	c.Auth = Auth{
		Scheme: strings.ToLower(strings.TrimSpace(rc.Auth.Scheme)),
		Token:  os.ExpandEnv(rc.Auth.Token),
		JWT: JWT{
			Secret: os.ExpandEnv(rc.Auth.JWT.Secret),
			Issuer: strings.TrimSpace(rc.Auth.JWT.Issuer),
		},
	}
	if c.Auth.Scheme == "" {
		c.Auth.Scheme = SchemeStatic
	}
	needsCredential := c.ProtectedRoutes() > 0
	switch c.Auth.Scheme {
	case SchemeStatic:
		if needsCredential && c.Auth.Token == "" {
			errs = multierror.Append(errs, fmt.Errorf("auth.token: required when a route sets requires_auth"))
		}
	case SchemeJWT:
		if needsCredential && c.Auth.JWT.Secret == "" {
			errs = multierror.Append(errs, fmt.Errorf("auth.jwt.secret: required when a route sets requires_auth"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("auth.scheme: unknown scheme %q", rc.Auth.Scheme))
	}

	// timeouts
	c.Timeouts.Read = parseDuration(&errs, "timeouts.read", rc.Timeouts.Read)
	c.Timeouts.Write = parseDuration(&errs, "timeouts.write", rc.Timeouts.Write)
	c.Timeouts.Upstream = parseDuration(&errs, "timeouts.upstream", rc.Timeouts.Upstream)
	if rc.Timeouts.Upstream == "" {
		c.Timeouts.Upstream = defaultUpstream
	}

	// limits
	if rc.Limits.MaxRequestBody < 0 {
		errs = multierror.Append(errs, fmt.Errorf("limits.max_request_body: must be >= 0"))
	}
	c.Limits.MaxRequestBody = rc.Limits.MaxRequestBody

	// upstream tls
	c.UpstreamTLS = UpstreamTLS{
		CAFile:             strings.TrimSpace(rc.UpstreamTLS.CAFile),
		InsecureSkipVerify: rc.UpstreamTLS.InsecureSkipVerify,
	}
	if c.UpstreamTLS.CAFile != "" {
		if _, err := os.Stat(c.UpstreamTLS.CAFile); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("upstream_tls.ca_file: %w", err))
		}
	}

	// log
	c.Log = logging.DefaultConfig()
	if v := strings.TrimSpace(rc.Log.Level); v != "" {
		c.Log.Level = v
	}
	if v := strings.ToLower(strings.TrimSpace(rc.Log.Format)); v != "" {
		c.Log.Format = v
	}
	if v := strings.TrimSpace(rc.Log.Output); v != "" {
		c.Log.Output = v
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = multierror.Append(errs, fmt.Errorf("log.format: unknown format %q", rc.Log.Format))
	}

	// access log
	c.AccessLog = AccessLog{Enabled: true, Sampling: 1}
	if rc.AccessLog.Enabled != nil {
		c.AccessLog.Enabled = *rc.AccessLog.Enabled
	}
	if rc.AccessLog.Sampling != nil {
		c.AccessLog.Sampling = *rc.AccessLog.Sampling
		if c.AccessLog.Sampling < 0 || c.AccessLog.Sampling > 1 {
			errs = multierror.Append(errs, fmt.Errorf("access_log.sampling: must be within [0,1]"))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseDuration(errs **multierror.Error, field, v string) time.Duration {
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = multierror.Append(*errs, fmt.Errorf("%s: %v", field, err))
		return 0
	}
	if d < 0 {
		*errs = multierror.Append(*errs, fmt.Errorf("%s: must not be negative", field))
		return 0
	}
	return d
}
