package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/stusseligmini/FionaSparx-sub000/internal/tracing"
)

// ServeHTTP adapts the router to net/http. The source address is taken from
// RemoteAddr, so mount it behind a real-IP middleware when proxied.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		status := http.StatusBadRequest
		msg := "Failed to read request body"
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
			msg = "Request body too large"
		}
		writeResponse(w, Response{Status: status, Error: msg})
		return
	}

	ctx := tracing.ExtractHTTP(req.Context(), req.Header)
	resp := r.Handle(ctx, Request{
		Method:   req.Method,
		Path:     req.URL.Path,
		Headers:  req.Header,
		Body:     body,
		SourceIP: sourceIP(req.RemoteAddr),
	})
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Status == http.StatusTooManyRequests && resp.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(resp.RetryAfter.Seconds()))))
	}
	w.WriteHeader(resp.Status)
	json.NewEncoder(w).Encode(resp)
}

func sourceIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
