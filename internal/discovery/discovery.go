// Package discovery scans the local network for Homebox gateways over
// mDNS so setup can offer discovered hosts instead of asking for one.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"
)

const (
	serviceType = "_homebox-api._tcp"
	domain      = "local."

	// defaultWait bounds one scan; gateways answer well inside it.
	defaultWait = 3 * time.Second
)

// Candidate is one gateway that answered a scan. Host and Port come from
// the TXT records when the gateway advertises them, so they point at the
// API rather than the bare mDNS endpoint.
type Candidate struct {
	Name      string   `json:"name"`
	Host      string   `json:"host"`
	Port      int      `json:"port"`
	UID       string   `json:"uid,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
}

type Scanner struct {
	wait   time.Duration
	logger *slog.Logger
}

func NewScanner(logger *slog.Logger) *Scanner {
	return &Scanner{wait: defaultWait, logger: logger}
}

// Scan browses until the wait elapses and returns every distinct
// instance seen, sorted by name. Entries arriving on several interfaces
// collapse into one candidate with merged addresses.
func (s *Scanner) Scan(ctx context.Context) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.wait)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	browseErr := make(chan error, 1)
	go func() {
		browseErr <- zeroconf.Browse(ctx, serviceType, domain, entries, removed)
	}()

	found := make(map[string]Candidate)
	for {
		select {
		case entry := <-entries:
			if entry == nil {
				continue
			}
			c := newCandidate(entry.Instance, entry.HostName, entry.Port, entry.Text,
				addrStrings(entry.AddrIPv4, entry.AddrIPv6))
			if prev, ok := found[c.Name]; ok {
				c.Addresses = mergeAddresses(prev.Addresses, c.Addresses)
			}
			found[c.Name] = c
			s.logger.Debug("gateway answered scan", "name", c.Name, "host", c.Host, "port", c.Port)
		case <-removed:
		case err := <-browseErr:
			if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
				return nil, err
			}
			candidates := make([]Candidate, 0, len(found))
			for _, c := range found {
				candidates = append(candidates, c)
			}
			sort.Slice(candidates, func(i, j int) bool { return candidates[i].Name < candidates[j].Name })
			return candidates, nil
		}
	}
}

// newCandidate flattens one mDNS answer. Gateways advertise the API
// host and TLS port as api_domain / https_port TXT records; answers
// without them fall back to the mDNS hostname and port.
func newCandidate(instance, hostname string, port int, txt, addrs []string) Candidate {
	c := Candidate{
		Name:      instance,
		Host:      strings.TrimSuffix(hostname, "."),
		Port:      port,
		Addresses: addrs,
	}
	for _, record := range txt {
		key, value, ok := strings.Cut(record, "=")
		if !ok || value == "" {
			continue
		}
		switch key {
		case "api_domain":
			c.Host = value
		case "https_port":
			if p, err := strconv.Atoi(value); err == nil && p > 0 && p <= 65535 {
				c.Port = p
			}
		case "uid":
			c.UID = value
		}
	}
	return c
}

func addrStrings(v4, v6 []net.IP) []string {
	addrs := make([]string, 0, len(v4)+len(v6))
	for _, ip := range v4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range v6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

func mergeAddresses(have, extra []string) []string {
	for _, addr := range extra {
		seen := false
		for _, known := range have {
			if known == addr {
				seen = true
				break
			}
		}
		if !seen {
			have = append(have, addr)
		}
	}
	return have
}
