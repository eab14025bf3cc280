package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/micro-ha/homebox-sync/addon/internal/model"
)

var ErrNotFound = errors.New("not found")

// AppToken returns the stored application token for host. A hub that was
// never paired yields an empty token and no error.
func (r *Repository) AppToken(ctx context.Context, host string) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx, `SELECT app_token FROM hub_tokens WHERE host = ?`, host).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

func (r *Repository) SaveAppToken(ctx context.Context, host, appToken string, trackID int) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO hub_tokens(host, app_token, track_id, granted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(host) DO UPDATE SET
			app_token=excluded.app_token,
			track_id=excluded.track_id,
			granted_at=excluded.granted_at`,
		host, appToken, trackID, now,
	)
	return err
}

func (r *Repository) DeleteAppToken(ctx context.Context, host string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM hub_tokens WHERE host = ?`, host)
	return err
}

func (r *Repository) ListRegistered(ctx context.Context) (map[string]model.DeviceRegistered, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT mac, name, icon, created_at, updated_at FROM devices_registered`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := map[string]model.DeviceRegistered{}
	for rows.Next() {
		var (
			item                 model.DeviceRegistered
			name, icon           sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&item.MAC, &name, &icon, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		item.Name = strPtr(name)
		item.Icon = strPtr(icon)
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			item.CreatedAt = ts.UTC()
		}
		if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			item.UpdatedAt = ts.UTC()
		}
		result[item.MAC] = item
	}
	return result, rows.Err()
}

// EnsureDeviceSeen records the first sighting of a device. Rows that
// already exist keep their original created_at.
func (r *Repository) EnsureDeviceSeen(ctx context.Context, mac string, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339Nano)
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO devices_registered(mac, name, icon, created_at, updated_at)
		VALUES (?, NULL, NULL, ?, ?)`,
		mac, ts, ts,
	)
	return err
}

func (r *Repository) PatchRegistered(ctx context.Context, mac string, name, icon *string) error {
	sets := []string{}
	args := []any{}
	if name != nil {
		sets = append(sets, "name = ?")
		args = append(args, nullable(name))
	}
	if icon != nil {
		sets = append(sets, "icon = ?")
		args = append(args, nullable(icon))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano), mac)
	query := `UPDATE devices_registered SET ` + strings.Join(sets, ", ") + ` WHERE mac = ?`
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListNodeSettings(ctx context.Context) (map[int]model.NodeSetting, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT node_id, label, invert_position, disabled, updated_at FROM node_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := map[int]model.NodeSetting{}
	for rows.Next() {
		var (
			item      model.NodeSetting
			label     sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&item.NodeID, &label, &item.InvertPosition, &item.Disabled, &updatedAt); err != nil {
			return nil, err
		}
		item.Label = strPtr(label)
		if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			item.UpdatedAt = ts.UTC()
		}
		result[item.NodeID] = item
	}
	return result, rows.Err()
}

// EnsureNodeSeen records the first sighting of a home node so restarts
// never re-announce known hardware. Existing rows are untouched.
func (r *Repository) EnsureNodeSeen(ctx context.Context, nodeID int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO node_settings(node_id, label, invert_position, disabled, updated_at)
		VALUES (?, NULL, 0, 0, ?)`,
		nodeID, at.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// PatchNodeSetting updates the provided fields, creating the row with
// defaults on first touch.
func (r *Repository) PatchNodeSetting(ctx context.Context, nodeID int, label *string, invertPosition, disabled *bool) error {
	if label == nil && invertPosition == nil && disabled == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	sets := []string{}
	args := []any{}
	if label != nil {
		sets = append(sets, "label = ?")
		args = append(args, nullable(label))
	}
	if invertPosition != nil {
		sets = append(sets, "invert_position = ?")
		args = append(args, *invertPosition)
	}
	if disabled != nil {
		sets = append(sets, "disabled = ?")
		args = append(args, *disabled)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, now, nodeID)
	res, err := tx.ExecContext(ctx, `UPDATE node_settings SET `+strings.Join(sets, ", ")+` WHERE node_id = ?`, args...)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		invert := invertPosition != nil && *invertPosition
		off := disabled != nil && *disabled
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO node_settings(node_id, label, invert_position, disabled, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			nodeID, nullable(label), invert, off, now,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// KeyLastReboot is the maintenance key for the last scheduled or manual
// hub reboot.
const KeyLastReboot = "last_reboot_at"

// MaintenanceAt returns the recorded timestamp for key, or nil when the
// action never ran.
func (r *Repository) MaintenanceAt(ctx context.Context, key string) (*time.Time, error) {
	var at sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT at FROM maintenance WHERE key = ?`, key).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toTimePtr(at), nil
}

func (r *Repository) SetMaintenanceAt(ctx context.Context, key string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO maintenance(key, at)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET at=excluded.at`,
		key, at.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func nullable(v *string) any {
	if v == nil {
		return nil
	}
	value := strings.TrimSpace(*v)
	if value == "" {
		return nil
	}
	return value
}

// MergeDeviceViews joins one cycle's live device list with registered
// metadata. Registered devices missing from the live list are appended
// as unreachable so renamed hardware never silently disappears.
func MergeDeviceViews(devices []model.Device, registered map[string]model.DeviceRegistered, at time.Time) []model.DeviceView {
	seen := make(map[string]struct{}, len(devices))
	result := make([]model.DeviceView, 0, len(devices)+len(registered))
	for _, dev := range devices {
		seen[dev.MAC] = struct{}{}
		result = append(result, buildView(dev, registered, at))
	}

	extras := make([]string, 0)
	for mac := range registered {
		if _, ok := seen[mac]; !ok {
			extras = append(extras, mac)
		}
	}
	sort.Strings(extras)
	for _, mac := range extras {
		result = append(result, buildView(model.Device{MAC: mac}, registered, at))
	}
	return result
}

func buildView(dev model.Device, registered map[string]model.DeviceRegistered, at time.Time) model.DeviceView {
	view := model.DeviceView{
		Device:    dev,
		Name:      strings.TrimSpace(dev.PrimaryName),
		UpdatedAt: at.UTC(),
	}
	if reg, ok := registered[dev.MAC]; ok {
		if reg.Name != nil && strings.TrimSpace(*reg.Name) != "" {
			view.Name = strings.TrimSpace(*reg.Name)
		}
		view.Icon = reg.Icon
		view.Registered = reg.Name != nil || reg.Icon != nil
		firstSeen := reg.CreatedAt
		if !firstSeen.IsZero() {
			view.FirstSeen = &firstSeen
		}
	}
	if view.Name == "" {
		view.Name = dev.MAC
	}
	return view
}

// FindDeviceView locates a device by MAC, case-insensitively.
func FindDeviceView(items []model.DeviceView, mac string) (model.DeviceView, error) {
	for _, item := range items {
		if strings.EqualFold(item.MAC, mac) {
			return item, nil
		}
	}
	return model.DeviceView{}, fmt.Errorf("%w: device %s", ErrNotFound, mac)
}
