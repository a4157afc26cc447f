package pinning

import (
	"io/fs"
	"os"
	"slices"
	"strings"
)

// Pin binds a hostname to a reference certificate file inside the bundle.
type Pin struct {
	Host        string
	Certificate string
}

// Policy is a hostname-keyed set of pins. Hostnames compare case-insensitively
// and the first pin for a host wins.
type Policy struct {
	Bundle fs.FS
	pins   map[string]Pin
}

func NewPolicy(bundle fs.FS, pins ...Pin) Policy {
	p := Policy{Bundle: bundle, pins: make(map[string]Pin, len(pins))}
	for _, pin := range pins {
		host := normalizeHost(pin.Host)
		if host == "" {
			continue
		}
		if _, exists := p.pins[host]; exists {
			continue
		}
		p.pins[host] = Pin{Host: host, Certificate: pin.Certificate}
	}
	return p
}

// LoadPolicy builds a policy over a directory of certificates from
// host -> file pairs.
func LoadPolicy(dir string, pins map[string]string) Policy {
	list := make([]Pin, 0, len(pins))
	for host, cert := range pins {
		list = append(list, Pin{Host: host, Certificate: cert})
	}
	slices.SortFunc(list, func(a, b Pin) int { return strings.Compare(a.Host, b.Host) })
	return NewPolicy(os.DirFS(dir), list...)
}

func (p Policy) Empty() bool { return len(p.pins) == 0 }

func (p Policy) Len() int { return len(p.pins) }

func (p Policy) Lookup(host string) (Pin, bool) {
	pin, ok := p.pins[normalizeHost(host)]
	return pin, ok
}

// Pins returns the entries sorted by host.
func (p Policy) Pins() []Pin {
	list := make([]Pin, 0, len(p.pins))
	for _, pin := range p.pins {
		list = append(list, pin)
	}
	slices.SortFunc(list, func(a, b Pin) int { return strings.Compare(a.Host, b.Host) })
	return list
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
}
