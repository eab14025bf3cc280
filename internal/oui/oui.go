// Package oui resolves MAC address prefixes to hardware vendor names.
// The embedded table is a curated slice of the IEEE registry covering
// devices commonly seen on a home LAN; the gateway's own vendor names
// take precedence and the table only fills the gaps.
package oui

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed data/oui.json
var embedded []byte

// DB maps normalized 6-hex-digit MAC prefixes to vendor names.
type DB struct {
	vendors map[string]string
}

// LoadEmbedded parses the table compiled into the binary.
func LoadEmbedded() (*DB, error) {
	return Parse(embedded)
}

// Parse reads a JSON object of MAC prefix to vendor name. Keys may use
// any common MAC notation and are normalized on load; entries that do
// not reduce to a 6-digit prefix are skipped.
func Parse(data []byte) (*DB, error) {
	raw := map[string]string{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse oui table: %w", err)
	}
	vendors := make(map[string]string, len(raw))
	for prefix, vendor := range raw {
		key := normalize(prefix)
		vendor = strings.TrimSpace(vendor)
		if len(key) != 6 || vendor == "" {
			continue
		}
		vendors[key] = vendor
	}
	return &DB{vendors: vendors}, nil
}

// Vendor resolves the vendor for a full MAC address or a bare prefix.
// A nil DB resolves nothing.
func (db *DB) Vendor(mac string) (string, bool) {
	if db == nil {
		return "", false
	}
	key := normalize(mac)
	if len(key) < 6 {
		return "", false
	}
	vendor, ok := db.vendors[key[:6]]
	return vendor, ok
}

func normalize(v string) string {
	replacer := strings.NewReplacer(":", "", "-", "", ".", "")
	return strings.ToUpper(replacer.Replace(strings.TrimSpace(v)))
}
