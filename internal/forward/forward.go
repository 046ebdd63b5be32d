package forward

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/fabian4/gateway-lite/internal/gwerr"
	"github.com/fabian4/gateway-lite/internal/router"
)

// Response is a fully read upstream reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Upstream   string // outbound URL, for logs
}

// Forwarder rebuilds an inbound request against a resolved upstream and sends it.
type Forwarder struct {
	Transports   Factory
	Timeout      time.Duration // per outbound call, 0 = none
	MaxBodyBytes int64         // inbound body cap, 0 = unlimited
}

func NewForwarder(f Factory, timeout time.Duration, maxBody int64) *Forwarder {
	return &Forwarder{Transports: f, Timeout: timeout, MaxBodyBytes: maxBody}
}

// Forward sends r to m's upstream and reads the whole reply. The caller's context
// bounds the call, so a disconnected client cancels it. Every returned error is a *gwerr.Error.
// A body over MaxBodyBytes is RequestTooLarge; any other failure reading it is ClientClosed.
func (f *Forwarder) Forward(r *http.Request, m router.Match, requestID string) (*Response, error) {
	route := m.Route.Key

	body, err := f.readBody(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, gwerr.New(gwerr.RequestTooLarge, route, err)
		}
		return nil, gwerr.New(gwerr.ClientClosed, route, err)
	}

	u := upstreamURL(m.Route.Upstream, m.ForwardPath, r.URL.RawQuery)

	hdr := cloneHeader(r.Header)
	DropHopByHop(hdr)
	hdr.Del("Content-Length") // recomputed from body
	// the transport negotiates compression itself and hands back a decoded body
	hdr.Del("Accept-Encoding")
	addXFF(hdr, r.RemoteAddr)
	setXFProto(hdr, r)
	setXFHost(hdr, r.Host)
	if requestID != "" && hdr.Get(HeaderRequestID) == "" {
		hdr.Set(HeaderRequestID, requestID)
	}

	ctx := r.Context()
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	reqUp, err := http.NewRequestWithContext(ctx, r.Method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, gwerr.New(gwerr.Internal, route, fmt.Errorf("build upstream request: %w", err))
	}
	reqUp.Header = hdr
	reqUp.Host = u.Host

	resUp, err := f.Transports.Get(m.Route.Proto).RoundTrip(reqUp)
	if err != nil {
		return nil, classify(r.Context(), ctx, route, err)
	}
	defer func() { _ = resUp.Body.Close() }()

	resBody, err := io.ReadAll(resUp.Body)
	if err != nil {
		return nil, classify(r.Context(), ctx, route, fmt.Errorf("read upstream body: %w", err))
	}

	return &Response{
		StatusCode: resUp.StatusCode,
		Header:     resUp.Header,
		Body:       resBody,
		Upstream:   u.String(),
	}, nil
}

func (f *Forwarder) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	src := r.Body
	if f.MaxBodyBytes > 0 {
		src = http.MaxBytesReader(nil, r.Body, f.MaxBodyBytes)
	}
	b, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return b, nil
}

// upstreamURL joins base and the still-escaped forward path with exactly one
// slash. RawPath keeps the caller's encoding intact.
func upstreamURL(base *url.URL, forwardPath, rawQuery string) *url.URL {
	u := new(url.URL)
	*u = *base
	raw := joinSlash(base.EscapedPath(), forwardPath)
	if p, err := url.PathUnescape(raw); err == nil {
		u.Path = p
		u.RawPath = raw
	} else {
		u.Path = raw
		u.RawPath = ""
	}
	u.RawQuery = rawQuery
	u.Fragment = ""
	return u
}

// classify maps a dispatch failure onto the gateway taxonomy. caller is the
// inbound request context, call the bounded context of the outbound call.
func classify(caller, call context.Context, route string, err error) error {
	if errors.Is(caller.Err(), context.Canceled) {
		return gwerr.New(gwerr.ClientClosed, route, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(call.Err(), context.DeadlineExceeded) {
		return gwerr.New(gwerr.UpstreamTimeout, route, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return gwerr.New(gwerr.UpstreamTimeout, route, err)
	}
	return gwerr.New(gwerr.UpstreamUnreachable, route, err)
}
