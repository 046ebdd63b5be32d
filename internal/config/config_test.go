package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
)

func writeTmp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	fp := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(fp, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return fp
}

func TestLoad_Minimal(t *testing.T) {
	yml := `
routes:
  - key: service1
    url: http://localhost:8001
  - key: service2
    url: http://localhost:8002
    requires_auth: true
auth:
  token: my-secure-token
`
	cfg, err := Load(writeTmp(t, yml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got, want := cfg.Listen, ":8000"; got != want {
		t.Fatalf("listen: got %q, want %q", got, want)
	}
	if got, want := cfg.AdminListen, ":9000"; got != want {
		t.Fatalf("admin listen: got %q, want %q", got, want)
	}
	if got, want := cfg.Resolver, "exact"; got != want {
		t.Fatalf("resolver: got %q, want %q", got, want)
	}
	if got, want := cfg.Auth.Scheme, SchemeStatic; got != want {
		t.Fatalf("auth scheme: got %q, want %q", got, want)
	}
	if cfg.Timeouts.Upstream != 30*time.Second {
		t.Fatalf("upstream timeout default: got %v", cfg.Timeouts.Upstream)
	}
	if !cfg.AccessLog.Enabled || cfg.AccessLog.Sampling != 1 {
		t.Fatalf("access log defaults unexpected: %+v", cfg.AccessLog)
	}
	if len(cfg.Routes) != 2 {
		t.Fatalf("routes len: got %d, want 2", len(cfg.Routes))
	}
	r1, r2 := cfg.Routes[0], cfg.Routes[1]
	if r1.Key != "service1" || r1.RequiresAuth || r1.Upstream.Host != "localhost:8001" {
		t.Fatalf("route 1 unexpected: %+v", r1)
	}
	if r2.Key != "service2" || !r2.RequiresAuth {
		t.Fatalf("route 2 unexpected: %+v", r2)
	}
	if r1.Proto != "http1" {
		t.Fatalf("proto default: got %q", r1.Proto)
	}
	if cfg.ProtectedRoutes() != 1 {
		t.Fatalf("protected routes: got %d, want 1", cfg.ProtectedRoutes())
	}
}

func TestLoad_Full(t *testing.T) {
	yml := `
listen: ":18000"
admin: { listen: "" }
resolver: prefix
auth:
  scheme: jwt
  jwt: { secret: s3cret, issuer: gateway }
routes:
  - key: /service2
    url: https://svc2.internal:8443/base
    requires_auth: true
    proto: auto
    rate_limit: { requests_per_second: 50, burst: 100 }
  - key: /service1
    url: http://localhost:8001
timeouts: { read: 1s, write: 2m, upstream: 500ms }
limits: { max_request_body: 1024 }
log: { level: debug, format: console, output: stderr }
access_log: { enabled: false, sampling: 0.25 }
`
	cfg, err := Load(writeTmp(t, yml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":18000" {
		t.Errorf("listen: got %q", cfg.Listen)
	}
	if cfg.AdminListen != "" {
		t.Errorf("admin listen should be disabled, got %q", cfg.AdminListen)
	}
	if cfg.Resolver != "prefix" {
		t.Errorf("resolver: got %q", cfg.Resolver)
	}
	if cfg.Auth.Scheme != SchemeJWT || cfg.Auth.JWT.Secret != "s3cret" || cfg.Auth.JWT.Issuer != "gateway" {
		t.Errorf("auth unexpected: %+v", cfg.Auth)
	}
	// configured order is kept
	if cfg.Routes[0].Key != "/service2" || cfg.Routes[1].Key != "/service1" {
		t.Errorf("route order changed: %q, %q", cfg.Routes[0].Key, cfg.Routes[1].Key)
	}
	rl := cfg.Routes[0].RateLimit
	if rl == nil || rl.RequestsPerSecond != 50 || rl.Burst != 100 {
		t.Errorf("rate limit unexpected: %+v", rl)
	}
	if cfg.Routes[1].RateLimit != nil {
		t.Errorf("route without rate_limit should have none")
	}
	if cfg.Routes[0].Proto != "auto" {
		t.Errorf("proto: got %q", cfg.Routes[0].Proto)
	}
	if cfg.Timeouts.Read != time.Second || cfg.Timeouts.Write != 2*time.Minute || cfg.Timeouts.Upstream != 500*time.Millisecond {
		t.Errorf("timeouts unexpected: %+v", cfg.Timeouts)
	}
	if cfg.Limits.MaxRequestBody != 1024 {
		t.Errorf("max body: got %d", cfg.Limits.MaxRequestBody)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" || cfg.Log.Output != "stderr" {
		t.Errorf("log unexpected: %+v", cfg.Log)
	}
	if cfg.AccessLog.Enabled || cfg.AccessLog.Sampling != 0.25 {
		t.Errorf("access log unexpected: %+v", cfg.AccessLog)
	}
}

func TestLoad_ExpandsEnvInSecrets(t *testing.T) {
	t.Setenv("GATEWAY_TEST_TOKEN", "from-env")
	yml := `
auth: { token: "${GATEWAY_TEST_TOKEN}" }
routes:
  - key: service2
    url: http://localhost:8002
    requires_auth: true
`
	cfg, err := Load(writeTmp(t, yml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.Token != "from-env" {
		t.Fatalf("token: got %q, want %q", cfg.Auth.Token, "from-env")
	}
}

func TestLoad_UpstreamTLS(t *testing.T) {
	ca := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(ca, []byte("placeholder"), 0o644); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	yml := `
upstream_tls:
  ca_file: ` + ca + `
  insecure_skip_verify: true
routes:
  - key: service1
    url: https://svc1.internal:8443
`
	cfg, err := Load(writeTmp(t, yml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UpstreamTLS.CAFile != ca || !cfg.UpstreamTLS.InsecureSkipVerify {
		t.Fatalf("upstream tls unexpected: %+v", cfg.UpstreamTLS)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("want error for missing file")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yml  string
		want string
	}{
		{"no routes", `listen: ":8000"`, "at least one is required"},
		{"bad yaml", "routes: [", "yaml"},
		{"missing key", `
routes:
  - url: http://a:1
`, "key is required"},
		{"duplicate key", `
routes:
  - { key: s1, url: "http://a:1" }
  - { key: s1, url: "http://b:1" }
`, "duplicate key"},
		{"exact key with slash", `
routes:
  - { key: a/b, url: "http://a:1" }
`, "single segment"},
		{"prefix key without slash", `
resolver: prefix
routes:
  - { key: api, url: "http://a:1" }
`, "must start with '/'"},
		{"bad url", `
routes:
  - { key: s1, url: "ftp://a:1" }
`, "http(s) URL"},
		{"bad proto", `
routes:
  - { key: s1, url: "http://a:1", proto: h3 }
`, "unknown proto"},
		{"bad rate", `
routes:
  - { key: s1, url: "http://a:1", rate_limit: { requests_per_second: 0 } }
`, "requests_per_second"},
		{"token required", `
routes:
  - { key: s1, url: "http://a:1", requires_auth: true }
`, "auth.token"},
		{"jwt secret required", `
auth: { scheme: jwt }
routes:
  - { key: s1, url: "http://a:1", requires_auth: true }
`, "auth.jwt.secret"},
		{"unknown scheme", `
auth: { scheme: basic }
routes:
  - { key: s1, url: "http://a:1" }
`, "auth.scheme"},
		{"unknown resolver", `
resolver: regex
routes:
  - { key: s1, url: "http://a:1" }
`, "resolver"},
		{"bad timeout", `
timeouts: { upstream: soon }
routes:
  - { key: s1, url: "http://a:1" }
`, "timeouts.upstream"},
		{"bad sampling", `
access_log: { sampling: 1.5 }
routes:
  - { key: s1, url: "http://a:1" }
`, "access_log.sampling"},
		{"bad log level", `
log: { level: loud }
routes:
  - { key: s1, url: "http://a:1" }
`, "log.level"},
		{"missing ca file", `
upstream_tls: { ca_file: /nonexistent/ca.pem }
routes:
  - { key: s1, url: "https://a:1" }
`, "upstream_tls.ca_file"},
		{"negative body limit", `
limits: { max_request_body: -1 }
routes:
  - { key: s1, url: "http://a:1" }
`, "max_request_body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yml))
			if err == nil {
				t.Fatalf("want error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParse_CollectsAllErrors(t *testing.T) {
	yml := `
resolver: exact
routes:
  - { key: s1, url: "ftp://a" }
  - { key: s1, url: "http://b:1", proto: h3 }
`
	_, err := Parse([]byte(yml))
	if err == nil {
		t.Fatalf("want error")
	}
	merr, ok := err.(*multierror.Error)
	if !ok {
		t.Fatalf("want *multierror.Error, got %T", err)
	}
	if got := len(merr.Errors); got != 3 {
		t.Fatalf("errors: got %d, want 3 (%v)", got, merr)
	}
}
