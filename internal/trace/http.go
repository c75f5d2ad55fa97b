package trace

import (
	"context"
	"net/http"
)

// Header returns the propagation headers for ctx, starting a trace if none
// exists. Used for WebSocket handshakes.
func Header(ctx context.Context) http.Header {
	h := make(http.Header)
	Inject(ctx, h)
	return h
}

// Inject writes the trace context of ctx into h.
func Inject(ctx context.Context, h http.Header) {
	tc, ok := FromContext(ctx)
	if !ok {
		tc = New()
	}
	for k, v := range tc.ToMap() {
		h.Set(k, v)
	}
}

// Transport is an http.RoundTripper that stamps each request with a child
// span of the request context.
type Transport struct {
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	ctx, _ := StartSpan(r.Context(), r.Method+" "+r.URL.Path)
	r = r.Clone(ctx)
	Inject(ctx, r.Header)
	return base.RoundTrip(r)
}

// Middleware extracts or creates trace context for HTTP requests.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := extractFromHeaders(r)
		ctx := WithContext(r.Context(), tc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractFromHeaders(r *http.Request) Context {
	return FromMap(map[string]string{
		TraceIDKey:      r.Header.Get(TraceIDKey),
		SpanIDKey:       r.Header.Get(SpanIDKey),
		ConversationKey: r.Header.Get(ConversationKey),
	})
}
