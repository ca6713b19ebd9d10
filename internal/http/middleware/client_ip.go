package middleware

import (
	"context"
	"net/http"
	"net/netip"
	"strings"
)

type contextKey string

const clientIPKey contextKey = "client_ip"

// ClientIPResolver resolves the real client address for every request.
// X-Forwarded-For is only believed when the direct peer sits inside one of
// the trusted proxy ranges; otherwise the TCP peer address wins. Spoofing
// the header from outside the proxy tier therefore has no effect.
type ClientIPResolver struct {
	trustedProxies []netip.Prefix
}

func NewClientIPResolver(trustedProxies []netip.Prefix) *ClientIPResolver {
	return &ClientIPResolver{trustedProxies: trustedProxies}
}

func (c *ClientIPResolver) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := c.Resolve(r)
			ctx := context.WithValue(r.Context(), clientIPKey, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (c *ClientIPResolver) Resolve(r *http.Request) netip.Addr {
	peer := peerAddr(r)
	if !peer.IsValid() || !c.trusted(peer) {
		return peer
	}
	// Walk the forwarded chain right to left; the first hop not run by us
	// is the client.
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			if !c.trusted(addr) {
				return addr.Unmap()
			}
		}
	}
	return peer
}

func (c *ClientIPResolver) trusted(addr netip.Addr) bool {
	for _, p := range c.trustedProxies {
		if p.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}

func peerAddr(r *http.Request) netip.Addr {
	host := strings.TrimSpace(r.RemoteAddr)
	if ap, err := netip.ParseAddrPort(host); err == nil {
		return ap.Addr().Unmap()
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap()
	}
	return netip.Addr{}
}

// ClientIP returns the resolved address for the request, or the zero Addr
// when the resolver middleware did not run.
func ClientIP(r *http.Request) netip.Addr {
	if addr, ok := r.Context().Value(clientIPKey).(netip.Addr); ok {
		return addr
	}
	return netip.Addr{}
}
