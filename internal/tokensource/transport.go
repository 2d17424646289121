package tokensource

import (
	"net/http"
)

// DefaultUserAgent identifies the application on token and account requests.
const DefaultUserAgent = "rss-to-kobo"

// userAgentTransport stamps a User-Agent on every outgoing request.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

// Compile-time check that userAgentTransport implements http.RoundTripper.
var _ http.RoundTripper = (*userAgentTransport)(nil)

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	newReq := req.Clone(req.Context())
	newReq.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(newReq)
}

// NewTransport wraps base (http.DefaultTransport when nil) so that requests carry
// the given User-Agent.
func NewTransport(base http.RoundTripper, userAgent string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &userAgentTransport{base: base, userAgent: userAgent}
}
