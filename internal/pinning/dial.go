package pinning

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
)

// DialTLSContext wraps dial with a TLS handshake whose certificate check is
// fully owned by the pinner, so that every decision is observed and a
// rejection fails the connection.
func (p *Pinner) DialTLSContext(dial func(ctx context.Context, network, addr string) (net.Conn, error), base *tls.Config) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		raw, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		cfg := p.ClientConfig(base, host)
		conn := tls.Client(raw, cfg)
		if err := conn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, err
		}
		return conn, nil
	}
}

// ClientConfig returns a copy of base for one connection to host.
func (p *Pinner) ClientConfig(base *tls.Config, host string) *tls.Config {
	cfg := cloneConfig(base)
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	serverName := cfg.ServerName
	cfg.InsecureSkipVerify = true
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		if len(cs.PeerCertificates) == 0 {
			return errors.New("pinning: server presented no certificates")
		}
		return p.Verify(Challenge{
			Method: MethodServerTrust,
			Host:   serverName,
			Chain:  cs.PeerCertificates,
			Roots:  cfg.RootCAs,
		})
	}
	return cfg
}

// TLSConfig returns a copy of base that keeps standard verification and adds
// the pinning decision for the negotiated server name.
func (p *Pinner) TLSConfig(base *tls.Config) *tls.Config {
	cfg := cloneConfig(base)
	cfg.VerifyConnection = func(cs tls.ConnectionState) error {
		d := p.Evaluate(Challenge{
			Method: MethodServerTrust,
			Host:   cs.ServerName,
			Chain:  cs.PeerCertificates,
			Roots:  cfg.RootCAs,
		})
		if d.Disposition == Reject {
			return d.Err
		}
		return nil
	}
	return cfg
}

func cloneConfig(base *tls.Config) *tls.Config {
	if base == nil {
		return &tls.Config{}
	}
	return base.Clone()
}
