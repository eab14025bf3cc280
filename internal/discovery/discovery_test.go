package discovery

import (
	"net"
	"reflect"
	"testing"
)

func TestNewCandidatePrefersAdvertisedAPI(t *testing.T) {
	txt := []string{
		"api_domain=abc123.fbxos.example",
		"https_port=3443",
		"uid=23b1f5d2",
		"device_type=HomeboxServer",
	}
	c := newCandidate("Homebox v9", "homebox.local.", 80, txt, []string{"192.168.1.254"})

	if c.Name != "Homebox v9" {
		t.Fatalf("Name = %q", c.Name)
	}
	if c.Host != "abc123.fbxos.example" {
		t.Fatalf("Host = %q, want the advertised api_domain", c.Host)
	}
	if c.Port != 3443 {
		t.Fatalf("Port = %d, want the advertised https_port", c.Port)
	}
	if c.UID != "23b1f5d2" {
		t.Fatalf("UID = %q", c.UID)
	}
}

func TestNewCandidateFallsBackToMDNSEndpoint(t *testing.T) {
	c := newCandidate("Homebox v9", "homebox.local.", 80, []string{"https_port=bogus", "flag"}, nil)

	if c.Host != "homebox.local" {
		t.Fatalf("Host = %q, want trimmed mDNS hostname", c.Host)
	}
	if c.Port != 80 {
		t.Fatalf("Port = %d, want the mDNS port", c.Port)
	}
	if c.UID != "" {
		t.Fatalf("UID = %q, want empty", c.UID)
	}
}

func TestAddrStringsAndMerge(t *testing.T) {
	addrs := addrStrings([]net.IP{net.ParseIP("192.168.1.254")}, []net.IP{net.ParseIP("fe80::1")})
	want := []string{"192.168.1.254", "fe80::1"}
	if !reflect.DeepEqual(addrs, want) {
		t.Fatalf("addrStrings() = %v, want %v", addrs, want)
	}

	merged := mergeAddresses([]string{"192.168.1.254"}, []string{"192.168.1.254", "10.0.0.2"})
	want = []string{"192.168.1.254", "10.0.0.2"}
	if !reflect.DeepEqual(merged, want) {
		t.Fatalf("mergeAddresses() = %v, want %v", merged, want)
	}
}
