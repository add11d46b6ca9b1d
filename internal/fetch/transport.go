package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
)

const (
	dialTimeout         = 30 * time.Second
	keepAlive           = 30 * time.Second
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	maxIdleConnsPerHost = 4
)

var errNoAddress = errors.New("no resolved address accepted the connection")

// newTransport returns an HTTP transport that resolves hosts through resolver.
// The installer is short-lived, so the cache is never refreshed in the background.
func newTransport(resolver *dnscache.Resolver) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: keepAlive,
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}

			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}

			var lastErr error

			for _, ip := range ips {
				conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if dialErr == nil {
					return conn, nil
				}

				lastErr = dialErr
			}

			if lastErr == nil {
				lastErr = errNoAddress
			}

			return nil, fmt.Errorf("dial %s: %w", host, lastErr)
		},
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}
}
