package homebox

import (
	"context"
	"strings"
	"time"

	"github.com/micro-ha/homebox-sync/addon/internal/model"
)

// SystemInfo is the hub's own identity and board sensors, assembled from
// the system endpoint.
type SystemInfo struct {
	MAC        string
	PrettyName string
	Attrs      model.HubAttributes
	Sensors    []model.Sensor
}

type lanHostRow struct {
	PrimaryName  string `json:"primary_name"`
	VendorName   string `json:"vendor_name"`
	HostType     string `json:"host_type"`
	Active       bool   `json:"active"`
	Interface    string `json:"interface"`
	LastActivity int64  `json:"last_activity"`
	L2Ident      struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"l2ident"`
	L3Connectivities []struct {
		Addr   string `json:"addr"`
		Af     string `json:"af"`
		Active bool   `json:"active"`
	} `json:"l3connectivities"`
}

// FetchLanHosts lists the LAN hosts the hub browser knows, keyed by
// canonical MAC. Rows without a usable MAC are dropped.
func (c *Client) FetchLanHosts(ctx context.Context, cfg model.HubConfig) ([]model.Device, error) {
	var rows []lanHostRow
	if err := c.get(ctx, cfg, "/lan/browser/pub/", &rows); err != nil {
		return nil, err
	}

	devices := make([]model.Device, 0, len(rows))
	for _, row := range rows {
		mac := canonicalMAC(row.L2Ident.ID)
		if mac == "" {
			continue
		}
		device := model.Device{
			MAC:         mac,
			PrimaryName: row.PrimaryName,
			Vendor:      row.VendorName,
			HostType:    row.HostType,
			Reachable:   row.Active,
			Interface:   row.Interface,
		}
		if row.LastActivity > 0 {
			at := time.Unix(row.LastActivity, 0).UTC()
			device.LastActivityAt = &at
		}
		for _, l3 := range row.L3Connectivities {
			if l3.Active && l3.Af == "ipv4" && l3.Addr != "" {
				addr := l3.Addr
				device.IP = &addr
				break
			}
		}
		devices = append(devices, device)
	}
	return devices, nil
}

type systemRow struct {
	FirmwareVersion string `json:"firmware_version"`
	Mac             string `json:"mac"`
	Serial          string `json:"serial"`
	UptimeVal       int64  `json:"uptime_val"`
	BoardName       string `json:"board_name"`
	Sensors         []struct {
		ID    string  `json:"id"`
		Name  string  `json:"name"`
		Value float64 `json:"value"`
	} `json:"sensors"`
	ModelInfo struct {
		PrettyName string `json:"pretty_name"`
	} `json:"model_info"`
}

// FetchSystem reads the hub's board identity and temperature sensors.
func (c *Client) FetchSystem(ctx context.Context, cfg model.HubConfig) (SystemInfo, error) {
	var row systemRow
	if err := c.get(ctx, cfg, "/system/", &row); err != nil {
		return SystemInfo{}, err
	}

	info := SystemInfo{
		MAC:        canonicalMAC(row.Mac),
		PrettyName: row.ModelInfo.PrettyName,
		Attrs: model.HubAttributes{
			BoardName:       row.BoardName,
			Serial:          row.Serial,
			FirmwareVersion: row.FirmwareVersion,
			UptimeSec:       row.UptimeVal,
			FetchedAt:       time.Now().UTC(),
		},
	}
	info.Sensors = make([]model.Sensor, 0, len(row.Sensors))
	for _, sensor := range row.Sensors {
		info.Sensors = append(info.Sensors, model.Sensor{
			ID:    sensor.ID,
			Name:  sensor.Name,
			Value: sensor.Value,
			Unit:  "°C",
		})
	}
	return info, nil
}

// FetchConnection reads the WAN status and transfer rates.
func (c *Client) FetchConnection(ctx context.Context, cfg model.HubConfig) (ConnectionStatus, error) {
	var status ConnectionStatus
	if err := c.get(ctx, cfg, "/connection/", &status); err != nil {
		return ConnectionStatus{}, err
	}
	return status, nil
}

type callRow struct {
	ID       int    `json:"id"`
	Number   string `json:"number"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Datetime int64  `json:"datetime"`
}

// FetchCallLog reads the phone call log, newest first as the hub returns it.
func (c *Client) FetchCallLog(ctx context.Context, cfg model.HubConfig) ([]CallEntry, error) {
	var rows []callRow
	if err := c.get(ctx, cfg, "/call/log/", &rows); err != nil {
		return nil, err
	}

	calls := make([]CallEntry, 0, len(rows))
	for _, row := range rows {
		calls = append(calls, CallEntry{
			ID:     row.ID,
			Number: row.Number,
			Name:   row.Name,
			Type:   row.Type,
			At:     time.Unix(row.Datetime, 0).UTC(),
		})
	}
	return calls, nil
}

type diskRow struct {
	ID         int    `json:"id"`
	Type       string `json:"type"`
	TotalBytes int64  `json:"total_bytes"`
	Partitions []struct {
		ID         int    `json:"id"`
		Label      string `json:"label"`
		TotalBytes int64  `json:"total_bytes"`
		UsedBytes  int64  `json:"used_bytes"`
		FreeBytes  int64  `json:"free_bytes"`
	} `json:"partitions"`
}

// FetchDisks reads attached storage with per-partition usage. A hub with
// no disks answers null; that is an empty list, not an error.
func (c *Client) FetchDisks(ctx context.Context, cfg model.HubConfig) ([]model.Disk, error) {
	var rows []diskRow
	if err := c.get(ctx, cfg, "/storage/disk/", &rows); err != nil {
		return nil, err
	}

	disks := make([]model.Disk, 0, len(rows))
	for _, row := range rows {
		disk := model.Disk{
			ID:         row.ID,
			Type:       row.Type,
			TotalBytes: row.TotalBytes,
			Partitions: make([]model.Partition, 0, len(row.Partitions)),
		}
		for _, part := range row.Partitions {
			disk.Partitions = append(disk.Partitions, model.Partition{
				ID:         part.ID,
				Label:      part.Label,
				TotalBytes: part.TotalBytes,
				UsedBytes:  part.UsedBytes,
				FreeBytes:  part.FreeBytes,
			})
		}
		disks = append(disks, disk)
	}
	return disks, nil
}

func canonicalMAC(v string) string {
	v = strings.TrimSpace(strings.ToUpper(v))
	if v == "" {
		return ""
	}
	return strings.ReplaceAll(v, "-", ":")
}
