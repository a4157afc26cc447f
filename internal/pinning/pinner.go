package pinning

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"sync"
)

var (
	ErrNotServerTrustChallenge        = errors.New("not a server trust challenge")
	ErrTrustEvaluationFailed          = errors.New("server trust evaluation failed")
	ErrReferenceCertificateUnreadable = errors.New("reference certificate unreadable")
)

type PublicKeyMismatchError struct {
	Host      string
	ServerKey string
	LocalKey  string
}

func (e *PublicKeyMismatchError) Error() string {
	return fmt.Sprintf("public key mismatch for %s: server %s, pinned %s", e.Host, e.ServerKey, e.LocalKey)
}

type Method int

const (
	MethodServerTrust Method = iota
	MethodClientCertificate
	MethodHTTPBasic
)

// Challenge is one authentication challenge raised during a handshake. Roots
// overrides the pinner's trust anchors for this connection when set.
type Challenge struct {
	Method Method
	Host   string
	Chain  []*x509.Certificate
	Roots  *x509.CertPool
}

type Disposition int

const (
	PerformDefaultHandling Disposition = iota
	UseCredential
	Reject
)

func (d Disposition) String() string {
	switch d {
	case PerformDefaultHandling:
		return "default"
	case UseCredential:
		return "accept"
	case Reject:
		return "reject"
	}
	return "unknown"
}

// Credential carries the evaluated trust of an accepted pinned handshake.
type Credential struct {
	Chains [][]*x509.Certificate
}

type Decision struct {
	Disposition Disposition
	Credential  *Credential
	Err         error
}

type Observer func(host string, disposition Disposition, credential *Credential)

type Option func(*Pinner)

// WithRoots replaces the system roots used for trust evaluation.
func WithRoots(pool *x509.CertPool) Option {
	return func(p *Pinner) { p.roots = pool }
}

func WithObserver(o Observer) Option {
	return func(p *Pinner) { p.observers = append(p.observers, o) }
}

// Pinner decides handshake challenges. With an empty policy it is unpinned and
// defers everything to default trust evaluation.
type Pinner struct {
	mu        sync.RWMutex
	policy    Policy
	roots     *x509.CertPool
	keys      map[string]string
	observers []Observer
}

func New(opts ...Option) *Pinner {
	p := &Pinner{keys: make(map[string]string)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pinner) Configure(policy Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy = policy
	p.keys = make(map[string]string)
}

func (p *Pinner) Pinned() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.policy.Empty()
}

// Evaluate decides a challenge and reports the decision to every observer once.
func (p *Pinner) Evaluate(ch Challenge) Decision {
	d := p.decide(ch)
	for _, observe := range p.observers {
		observe(normalizeHost(ch.Host), d.Disposition, d.Credential)
	}
	return d
}

func (p *Pinner) decide(ch Challenge) Decision {
	p.mu.RLock()
	policy := p.policy
	p.mu.RUnlock()

	if policy.Empty() {
		return Decision{Disposition: PerformDefaultHandling}
	}
	pin, ok := policy.Lookup(ch.Host)
	if !ok {
		return Decision{Disposition: PerformDefaultHandling}
	}
	if ch.Method != MethodServerTrust {
		return Decision{Disposition: Reject, Err: ErrNotServerTrustChallenge}
	}
	chains, err := p.evaluateTrust(pin.Host, ch)
	if err != nil {
		return Decision{Disposition: Reject, Err: err}
	}
	serverKey, err := PublicKeyString(ch.Chain[0])
	if err != nil {
		return Decision{Disposition: Reject, Err: fmt.Errorf("%w: %w", ErrTrustEvaluationFailed, err)}
	}
	localKey, err := p.referenceKey(policy.Bundle, pin.Certificate)
	if err != nil {
		return Decision{Disposition: Reject, Err: err}
	}
	if serverKey != localKey {
		return Decision{Disposition: Reject, Err: &PublicKeyMismatchError{Host: pin.Host, ServerKey: serverKey, LocalKey: localKey}}
	}
	return Decision{Disposition: UseCredential, Credential: &Credential{Chains: chains}}
}

// Verify runs the full handshake check: the pinning decision, then default
// trust evaluation for hosts the policy does not cover.
func (p *Pinner) Verify(ch Challenge) error {
	d := p.Evaluate(ch)
	switch d.Disposition {
	case UseCredential:
		return nil
	case Reject:
		return d.Err
	}
	_, err := p.evaluateTrust(ch.Host, ch)
	return err
}

func (p *Pinner) evaluateTrust(host string, ch Challenge) ([][]*x509.Certificate, error) {
	chain := ch.Chain
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no certificates presented", ErrTrustEvaluationFailed)
	}
	roots := p.roots
	if ch.Roots != nil {
		roots = ch.Roots
	}
	intermediates := x509.NewCertPool()
	for _, cert := range chain[1:] {
		intermediates.AddCert(cert)
	}
	chains, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		DNSName:       host,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTrustEvaluationFailed, err)
	}
	return chains, nil
}

func (p *Pinner) referenceKey(bundle fs.FS, name string) (string, error) {
	p.mu.RLock()
	key, ok := p.keys[name]
	p.mu.RUnlock()
	if ok {
		return key, nil
	}
	if bundle == nil {
		return "", fmt.Errorf("%w: no bundle configured", ErrReferenceCertificateUnreadable)
	}
	raw, err := fs.ReadFile(bundle, name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrReferenceCertificateUnreadable, err)
	}
	cert, err := ParseCertificate(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrReferenceCertificateUnreadable, name, err)
	}
	key, err = PublicKeyString(cert)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrReferenceCertificateUnreadable, name, err)
	}
	p.mu.Lock()
	p.keys[name] = key
	p.mu.Unlock()
	return key, nil
}

// ParseCertificate accepts a PEM or DER encoded certificate.
func ParseCertificate(raw []byte) (*x509.Certificate, error) {
	if block, _ := pem.Decode(raw); block != nil {
		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
		}
		raw = block.Bytes
	}
	return x509.ParseCertificate(raw)
}

// PublicKeyString is the base64 of the certificate's PKIX public key.
func PublicKeyString(cert *x509.Certificate) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(der), nil
}
