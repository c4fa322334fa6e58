package cmn

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
)

// ClientCache hands out *http.Client instances keyed by the proxy URL they
// should dial through, creating and memoizing each one lazily. A nil/empty
// proxy key returns the direct client. Every client shares the same
// redirect/timeout policy; only the proxy differs.
type ClientCache struct {
	direct *http.Client
	mu     sync.RWMutex
	byURL  map[string]*http.Client
}

func NewClientCache() *ClientCache {
	return &ClientCache{
		direct: newClient(""),
		byURL:  make(map[string]*http.Client),
	}
}

// Get returns the cached client for proxyURL, creating it on first use.
// An empty proxyURL returns the direct (no-proxy) client.
func (cc *ClientCache) Get(proxyURL string) (*http.Client, error) {
	if proxyURL == "" {
		return cc.direct, nil
	}
	cc.mu.RLock()
	c, ok := cc.byURL[proxyURL]
	cc.mu.RUnlock()
	if ok {
		return c, nil
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	if c, ok := cc.byURL[proxyURL]; ok {
		return c, nil
	}
	c = newClient(proxyURL)
	cc.byURL[proxyURL] = c
	return c, nil
}

func newClient(proxyURL string) *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: DialTimeout,
		}).DialContext,
	}
	if proxyURL != "" {
		if pu, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(pu)
		}
	}
	return &http.Client{
		Transport: transport,
		Timeout:   RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", MaxRedirects)
			}
			return nil
		},
	}
}

// SetUserAgent applies the fixed user-agent header to req unless the caller
// already set one via header injection.
func SetUserAgent(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}
}

// IsHTTPS reports whether rawURL uses the https scheme.
func IsHTTPS(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && u.Scheme == "https"
}
