package homebox

import (
	"time"
)

// TokenGrant is the reply to a pairing request. The token only becomes
// usable once the matching track id reports status granted.
type TokenGrant struct {
	AppToken string `json:"app_token"`
	TrackID  int    `json:"track_id"`
}

// VersionInfo is the unauthenticated root descriptor of a hub, used by
// discovery probes and host validation.
type VersionInfo struct {
	APIVersion string `json:"api_version"`
	DeviceName string `json:"device_name"`
	DeviceType string `json:"device_type"`
	UID        string `json:"uid"`
	HTTPSPort  int    `json:"https_port"`
}

// ConnectionStatus is the hub's WAN side: link state, rates in bytes/s
// and the public addresses.
type ConnectionStatus struct {
	State    string `json:"state"`
	Media    string `json:"media"`
	IPv4     string `json:"ipv4"`
	IPv6     string `json:"ipv6"`
	RateDown int64  `json:"rate_down"`
	RateUp   int64  `json:"rate_up"`
}

// CallEntry is one phone log record; the hub reports datetime as a unix
// timestamp.
type CallEntry struct {
	ID     int       `json:"id"`
	Number string    `json:"number"`
	Name   string    `json:"name"`
	Type   string    `json:"type"`
	At     time.Time `json:"at"`
}

// Endpoint is one readable signal or writable slot on a home node.
type Endpoint struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Label     string `json:"label"`
	EpType    string `json:"ep_type"`
	ValueType string `json:"value_type"`
	Value     any    `json:"value"`
}

// NodeType describes the node's command surface; Endpoints lists every
// endpoint the node type declares, including slots with no current value.
type NodeType struct {
	Inherit   string     `json:"inherit"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Node is one home-automation device attached to the hub.
type Node struct {
	ID            int               `json:"id"`
	Label         string            `json:"label"`
	Category      string            `json:"category"`
	Status        string            `json:"status"`
	Props         map[string]string `json:"props"`
	ShowEndpoints []Endpoint        `json:"show_endpoints"`
	Type          NodeType          `json:"type"`
}

// Reachable reports whether the hub currently talks to the node.
func (n Node) Reachable() bool {
	return n.Status == "active"
}

// CommandID resolves the endpoint id for (epType, name) from the node
// type's declared endpoints. Missing commands are a per-device quirk the
// caller logs and skips.
func (n Node) CommandID(epType, name string) (int, bool) {
	for _, ep := range n.Type.Endpoints {
		if ep.EpType == epType && ep.Name == name {
			return ep.ID, true
		}
	}
	return 0, false
}

// SignalValue returns the current value of the named signal endpoint.
func (n Node) SignalValue(name string) (any, bool) {
	for _, ep := range n.ShowEndpoints {
		if ep.EpType == "signal" && ep.Name == name {
			return ep.Value, true
		}
	}
	return nil, false
}

// Node categories reported by the hub.
const (
	CategoryAlarm      = "alarm"
	CategoryCamera     = "camera"
	CategoryDoorSensor = "dws"
	CategoryIOHome     = "iohome"
	CategoryKeyfob     = "kfb"
	CategoryOpener     = "opener"
	CategoryMotion     = "pir"
	CategoryRTS        = "rts"
	CategoryShutter    = "shutter"
	CategoryBasicShut  = "basic_shutter"
)

// CategoryModel maps a node category to the hardware model string shown
// in device registries.
func CategoryModel(category, inherit string) (model, manufacturer string) {
	manufacturer = "Homebox"
	switch category {
	case CategoryMotion:
		return "HB-PIR01A", manufacturer
	case CategoryCamera:
		return "HB-CAM01A", manufacturer
	case CategoryDoorSensor:
		return "HB-DWS01A", manufacturer
	case CategoryKeyfob:
		return "HB-KFB01A", manufacturer
	case CategoryAlarm:
		return "HB-SEC07A", manufacturer
	}
	switch inherit {
	case "node::rts":
		return "RTS", "Somfy"
	case "node::ios":
		return "IOHome", "Somfy"
	}
	return "", manufacturer
}
