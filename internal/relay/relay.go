// Package relay writes upstream replies and gateway failures back to the caller.
package relay

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fabian4/gateway-lite/internal/forward"
	"github.com/fabian4/gateway-lite/internal/gwerr"
)

// Envelope is the body of every gateway-generated error.
type Envelope struct {
	Detail string `json:"detail"`
}

var errNotJSON = errors.New("upstream body is not valid JSON")

// Response copies res onto w. The body must be a JSON document; otherwise nothing
// is written and an UpstreamMalformedResponse error is returned so the caller can
// report it. An empty body is relayed as is.
func Response(w http.ResponseWriter, res *forward.Response, route string) error {
	if len(res.Body) > 0 && !json.Valid(res.Body) {
		return gwerr.New(gwerr.UpstreamMalformedResponse, route, errNotJSON)
	}

	hdr := res.Header.Clone()
	if hdr == nil {
		hdr = make(http.Header)
	}
	forward.DropHopByHop(hdr)
	hdr.Del("Content-Length")
	forward.CopyHeaders(w.Header(), hdr)
	if len(res.Body) > 0 && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}

	w.WriteHeader(res.StatusCode)
	if len(res.Body) > 0 {
		_, _ = w.Write(res.Body)
	}
	return nil
}

// Error writes err's status and a {"detail": ...} envelope.
func Error(w http.ResponseWriter, err *gwerr.Error) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Del("Content-Length")
	w.WriteHeader(err.Status())
	_ = json.NewEncoder(w).Encode(Envelope{Detail: err.Detail()})
}
