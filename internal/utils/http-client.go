package utils

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"golang.org/x/oauth2"
)

type DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error)

// TLSHook owns certificate checks. DialTLSContext serves direct connections;
// TLSConfig serves the handshakes the transport runs itself (proxy tunnels).
type TLSHook interface {
	DialTLSContext(dial DialFunc, base *tls.Config) DialFunc
	TLSConfig(base *tls.Config) *tls.Config
}

type HTTPClientConfig struct {
	Timeout        time.Duration
	KATimeout      time.Duration
	ProxyURL       string
	ProxyUsername  string
	ProxyPassword  string
	UserAgent      string
	Headers        map[string]string
	HighThreadMode bool              // larger socket buffers for many parallel fragments
	Resolve        map[string]string // "host:port" -> "addr:port", like curl --resolve
	BearerToken    string
	TLSConfig      *tls.Config
	TLSHook        TLSHook
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
	SetHeader(key, value string)
}

type Client struct {
	client *http.Client
	config HTTPClientConfig
}

func NewClient(cfg HTTPClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	transport := &http.Transport{
		IdleConnTimeout:     cfg.KATimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		DisableCompression:  true,
		TLSClientConfig:     cfg.TLSConfig,
	}
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if cfg.HighThreadMode {
		dialer.Control = func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				setSocketOptions(fd, socketBufferSize)
			})
		}
	}
	dial := resolvingDial(dialer.DialContext, cfg.Resolve)
	transport.DialContext = dial
	if cfg.TLSHook != nil {
		transport.TLSClientConfig = cfg.TLSHook.TLSConfig(cfg.TLSConfig)
		if cfg.ProxyURL == "" {
			transport.DialTLSContext = cfg.TLSHook.DialTLSContext(dial, cfg.TLSConfig)
		}
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	var rt http.RoundTripper = transport
	if cfg.BearerToken != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BearerToken, TokenType: "Bearer"}),
			Base:   transport,
		}
	}
	return &Client{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: rt,
		},
		config: cfg,
	}
}

// NewStreamingClient is NewClient without the overall request timeout, for
// long bodies that are bounded by context instead.
func NewStreamingClient(cfg HTTPClientConfig) *Client {
	c := NewClient(cfg)
	c.client.Timeout = 0
	return c
}

func resolvingDial(dial DialFunc, resolve map[string]string) DialFunc {
	if len(resolve) == 0 {
		return dial
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if target, ok := resolve[addr]; ok {
			addr = target
		}
		return dial(ctx, network, addr)
	}
}

func (c *Client) SetHeader(key, value string) {
	c.config.Headers[key] = value
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}
