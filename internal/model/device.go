package model

import "time"

// Device is one LAN host as mirrored from the hub browser, plus the hub
// itself (IsHub set).
type Device struct {
	MAC            string     `json:"mac"`
	PrimaryName    string     `json:"primary_name"`
	Vendor         string     `json:"vendor"`
	HostType       string     `json:"host_type"`
	Reachable      bool       `json:"reachable"`
	IP             *string    `json:"ip,omitempty"`
	Interface      string     `json:"interface,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	IsHub          bool       `json:"is_hub"`
}

// DeviceRegistered is user-supplied metadata for one device.
type DeviceRegistered struct {
	MAC       string    `json:"mac"`
	Name      *string   `json:"name,omitempty"`
	Icon      *string   `json:"icon,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeviceView merges live device state with registered metadata for the API.
type DeviceView struct {
	Device
	Name       string     `json:"name"`
	Icon       *string    `json:"icon,omitempty"`
	Registered bool       `json:"registered"`
	FirstSeen  *time.Time `json:"first_seen_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Sensor is one scalar hub measurement (temperature, rate, counter).
type Sensor struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Disk is one hub storage device with its partitions.
type Disk struct {
	ID         int         `json:"id"`
	Type       string      `json:"type"`
	TotalBytes int64       `json:"total_bytes"`
	Partitions []Partition `json:"partitions"`
}

// Partition is one mounted slice of a disk.
type Partition struct {
	ID         int    `json:"id"`
	Label      string `json:"label"`
	TotalBytes int64  `json:"total_bytes"`
	UsedBytes  int64  `json:"used_bytes"`
	FreeBytes  int64  `json:"free_bytes"`
}

// HubAttributes carries cycle-level metadata about the hub itself.
type HubAttributes struct {
	BoardName       string    `json:"board_name,omitempty"`
	Serial          string    `json:"serial,omitempty"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	UptimeSec       int64     `json:"uptime_sec,omitempty"`
	ConnectionState string    `json:"connection_state,omitempty"`
	IPv4            string    `json:"ipv4,omitempty"`
	IPv6            string    `json:"ipv6,omitempty"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// EndpointView is one readable signal or writable slot of a node.
type EndpointView struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
}

// NodeView is one home-automation node prepared for the API: raw endpoints
// plus derived convenience fields (shutter position already un-inverted).
type NodeView struct {
	ID        int            `json:"id"`
	Label     string         `json:"label"`
	Category  string         `json:"category"`
	Model     string         `json:"model,omitempty"`
	Reachable bool           `json:"reachable"`
	Endpoints []EndpointView `json:"endpoints"`
	Position  *int           `json:"position,omitempty"`
	State     *string        `json:"state,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NodeSetting is per-node persisted tuning.
type NodeSetting struct {
	NodeID         int       `json:"node_id"`
	Label          *string   `json:"label,omitempty"`
	InvertPosition bool      `json:"invert_position"`
	Disabled       bool      `json:"disabled"`
	UpdatedAt      time.Time `json:"updated_at"`
}
