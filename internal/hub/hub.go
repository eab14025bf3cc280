// Package hub assembles the add-on's live view of one Homebox gateway:
// the periodic full refresh cycle, the command surface toward home
// automation nodes, and the trackers that feed the fast-poll scheduler
// after a command.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/micro-ha/homebox-sync/addon/internal/cache"
	"github.com/micro-ha/homebox-sync/addon/internal/configsync"
	"github.com/micro-ha/homebox-sync/addon/internal/event"
	"github.com/micro-ha/homebox-sync/addon/internal/homebox"
	"github.com/micro-ha/homebox-sync/addon/internal/model"
	"github.com/micro-ha/homebox-sync/addon/internal/refresh"
	"github.com/micro-ha/homebox-sync/addon/internal/storage"
)

var ErrNotConfigured = errors.New("hub not configured")

// Cache lifetimes per subsystem. Core readings stay just under the
// default scan interval so every cycle refetches them, while the slow
// movers ride their slot across several cycles.
const (
	devicesTTL    = 25 * time.Second
	systemTTL     = 25 * time.Second
	connectionTTL = 25 * time.Second
	callsTTL      = 2 * time.Minute
	disksTTL      = 5 * time.Minute
	nodesTTL      = 25 * time.Second

	permissionLogWindow = time.Hour
)

// APIClient is the slice of the hub API client the service consumes.
type APIClient interface {
	Paired(ctx context.Context, host string) (bool, error)
	Pair(ctx context.Context, cfg model.HubConfig) error
	Version(ctx context.Context, cfg model.HubConfig) (homebox.VersionInfo, error)
	FetchLanHosts(ctx context.Context, cfg model.HubConfig) ([]model.Device, error)
	FetchSystem(ctx context.Context, cfg model.HubConfig) (homebox.SystemInfo, error)
	FetchConnection(ctx context.Context, cfg model.HubConfig) (homebox.ConnectionStatus, error)
	FetchCallLog(ctx context.Context, cfg model.HubConfig) ([]homebox.CallEntry, error)
	FetchDisks(ctx context.Context, cfg model.HubConfig) ([]model.Disk, error)
	FetchNodes(ctx context.Context, cfg model.HubConfig) ([]homebox.Node, error)
	FetchNode(ctx context.Context, cfg model.HubConfig, nodeID int) (homebox.Node, error)
	FetchEndpointValue(ctx context.Context, cfg model.HubConfig, nodeID, endpointID int) (any, error)
	SetEndpoint(ctx context.Context, cfg model.HubConfig, nodeID, endpointID int, value any) error
	FetchWifi(ctx context.Context, cfg model.HubConfig) (bool, error)
	SetWifi(ctx context.Context, cfg model.HubConfig, enabled bool) error
	Reboot(ctx context.Context, cfg model.HubConfig) error
}

// Ensure the real client satisfies the consumer interface.
var _ APIClient = (*homebox.Client)(nil)

// VendorLookup resolves a MAC address prefix to a hardware vendor name.
type VendorLookup interface {
	Vendor(mac string) (string, bool)
}

// Snapshot is the assembled state of the hub after a refresh cycle.
type Snapshot struct {
	Devices    []model.DeviceView  `json:"devices"`
	Sensors    []model.Sensor      `json:"sensors"`
	Attributes model.HubAttributes `json:"attributes"`
	Calls      []homebox.CallEntry `json:"calls"`
	Disks      []model.Disk        `json:"disks"`
	Nodes      []model.NodeView    `json:"nodes"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Filter narrows device listings.
type Filter struct {
	Query      string
	Reachable  *bool
	Registered *bool
}

// Service owns the refresh cycle and every read the HTTP layer serves.
// UpdateAll runs on the poller goroutine only; the cycle-scratch fields
// below the caches are touched by nothing else.
type Service struct {
	repo      *storage.Repository
	client    APIClient
	config    *configsync.Manager
	scheduler *refresh.Scheduler
	bus       *event.Bus
	vendors   VendorLookup
	logger    *slog.Logger
	now       func() time.Time

	devicesCache *cache.Slot[[]model.Device]
	systemCache  *cache.Slot[homebox.SystemInfo]
	connCache    *cache.Slot[homebox.ConnectionStatus]
	callsCache   *cache.Slot[[]homebox.CallEntry]
	disksCache   *cache.Slot[[]model.Disk]
	nodesCache   *cache.Slot[[]homebox.Node]

	nodeFlight singleflight.Group

	// Cycle scratch, poller goroutine only.
	sys      homebox.SystemInfo
	hasSys   bool
	conn     homebox.ConnectionStatus
	hasConn  bool
	calls    []homebox.CallEntry
	hasCalls bool
	disks    []model.Disk
	hasDisks bool

	mu           sync.Mutex
	snapshot     Snapshot
	liveDevices  []model.Device
	liveNodes    []homebox.Node
	nodeSettings map[int]model.NodeSetting
	knownMACs    map[string]struct{}
	knownNodes   map[int]struct{}
	seeded       bool
	nodesSeeded  bool

	permMu       sync.Mutex
	permWarnedAt map[string]time.Time
}

func New(repo *storage.Repository, client APIClient, cfg *configsync.Manager, scheduler *refresh.Scheduler, bus *event.Bus, vendors VendorLookup, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		client:    client,
		config:    cfg,
		scheduler: scheduler,
		bus:       bus,
		vendors:   vendors,
		logger:    logger,
		now:       time.Now,

		devicesCache: cache.NewSlot[[]model.Device](devicesTTL),
		systemCache:  cache.NewSlot[homebox.SystemInfo](systemTTL),
		connCache:    cache.NewSlot[homebox.ConnectionStatus](connectionTTL),
		callsCache:   cache.NewSlot[[]homebox.CallEntry](callsTTL),
		disksCache:   cache.NewSlot[[]model.Disk](disksTTL),
		nodesCache:   cache.NewSlot[[]homebox.Node](nodesTTL),

		nodeSettings: make(map[int]model.NodeSetting),
		knownMACs:    make(map[string]struct{}),
		knownNodes:   make(map[int]struct{}),
		permWarnedAt: make(map[string]time.Time),
	}
}

// UpdateAll runs one full refresh cycle. Every subsystem is fetched
// through its cache slot and fails independently: a broken endpoint is
// logged and its section keeps the previous data, while a permission
// rejection empties the section until the hub grants the right again.
// Exactly one state_updated event is published per cycle, plus one
// device_new per newly sighted device or node.
func (s *Service) UpdateAll(ctx context.Context) error {
	cfg, ok := s.config.Get()
	if !ok {
		return ErrNotConfigured
	}
	paired, err := s.client.Paired(ctx, cfg.Host)
	if err != nil {
		return err
	}
	if !paired {
		return homebox.ErrNotPaired
	}

	now := s.now().UTC()
	var pending []event.Event

	if system, ok, denied := fetchVia(s, ctx, cfg, s.systemCache, "system", s.client.FetchSystem); ok {
		s.sys, s.hasSys = system, true
	} else if denied {
		s.sys, s.hasSys = homebox.SystemInfo{}, false
	}

	if conn, ok, denied := fetchVia(s, ctx, cfg, s.connCache, "connection", s.client.FetchConnection); ok {
		s.conn, s.hasConn = conn, true
	} else if denied {
		s.conn, s.hasConn = homebox.ConnectionStatus{}, false
	}

	if calls, ok, denied := fetchVia(s, ctx, cfg, s.callsCache, "call_log", s.client.FetchCallLog); ok {
		s.calls, s.hasCalls = calls, true
	} else if denied {
		s.calls, s.hasCalls = nil, false
	}

	if disks, ok, denied := fetchVia(s, ctx, cfg, s.disksCache, "storage", s.client.FetchDisks); ok {
		s.disks, s.hasDisks = disks, true
	} else if denied {
		s.disks, s.hasDisks = nil, false
	}

	registered := s.loadRegistered(ctx)

	if devices, ok, denied := fetchVia(s, ctx, cfg, s.devicesCache, "lan_hosts", s.client.FetchLanHosts); ok {
		live := append([]model.Device(nil), devices...)
		if hub, ok := s.hubDevice(); ok {
			live = append(live, hub)
		}
		s.fillVendors(live)
		pending = append(pending, s.noteNewDevices(ctx, live, registered, now)...)
		s.mu.Lock()
		s.liveDevices = live
		s.mu.Unlock()
	} else if denied {
		s.mu.Lock()
		s.liveDevices = nil
		s.mu.Unlock()
	}

	if nodes, ok, denied := fetchVia(s, ctx, cfg, s.nodesCache, "home_nodes", s.client.FetchNodes); ok {
		settings := s.loadNodeSettings(ctx)
		pending = append(pending, s.noteNewNodes(ctx, nodes, settings, now)...)
		s.mu.Lock()
		s.liveNodes = nodes
		s.mu.Unlock()
	} else if denied {
		s.mu.Lock()
		s.liveNodes = nil
		s.mu.Unlock()
	}

	snap := s.assemble(registered, now)
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()

	for _, ev := range pending {
		s.bus.Publish(ev)
	}
	s.bus.Publish(event.Event{Type: event.TypeStateUpdated, At: now})
	s.logger.Debug("refresh cycle complete",
		"devices", len(snap.Devices), "nodes", len(snap.Nodes), "sensors", len(snap.Sensors))
	return nil
}

// fetchVia serves one subsystem from its cache slot, fetching on a miss.
// Returns the value, whether fresh data is available this cycle, and
// whether the hub denied the read outright.
func fetchVia[T any](s *Service, ctx context.Context, cfg model.HubConfig, slot *cache.Slot[T], feature string, fetch func(context.Context, model.HubConfig) (T, error)) (T, bool, bool) {
	if value, ok := slot.Get(); ok {
		return value, true, false
	}
	value, err := fetch(ctx, cfg)
	if err != nil {
		s.noteFetchError(feature, err)
		var zero T
		return zero, false, homebox.IsPermission(err)
	}
	slot.Set(value)
	return value, true, false
}

// noteFetchError logs a failed subsystem read. Permission rejections
// repeat at most once per window so a misconfigured grant does not
// flood the log at scan rate.
func (s *Service) noteFetchError(feature string, err error) {
	if homebox.IsPermission(err) {
		now := s.now()
		s.permMu.Lock()
		last, seen := s.permWarnedAt[feature]
		stale := !seen || now.Sub(last) >= permissionLogWindow
		if stale {
			s.permWarnedAt[feature] = now
		}
		s.permMu.Unlock()
		if stale {
			s.logger.Warn("hub denied access; feature unavailable until granted",
				"feature", feature, "err", err)
		}
		return
	}
	s.logger.Warn("hub fetch failed; cycle continues", "feature", feature, "err", err)
}

func (s *Service) loadRegistered(ctx context.Context) map[string]model.DeviceRegistered {
	registered, err := s.repo.ListRegistered(ctx)
	if err != nil {
		s.logger.Warn("loading registered devices failed", "err", err)
		return map[string]model.DeviceRegistered{}
	}
	return registered
}

func (s *Service) loadNodeSettings(ctx context.Context) map[int]model.NodeSetting {
	settings, err := s.repo.ListNodeSettings(ctx)
	if err != nil {
		s.logger.Warn("loading node settings failed", "err", err)
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.nodeSettings
	}
	s.mu.Lock()
	s.nodeSettings = settings
	s.mu.Unlock()
	return settings
}

// hubDevice synthesizes the gateway's own entry for the device list.
func (s *Service) hubDevice() (model.Device, bool) {
	if !s.hasSys || s.sys.MAC == "" {
		return model.Device{}, false
	}
	hub := model.Device{
		MAC:         s.sys.MAC,
		PrimaryName: s.sys.PrettyName,
		Vendor:      "Homebox",
		HostType:    "router",
		Reachable:   true,
		IsHub:       true,
	}
	if s.hasConn && s.conn.IPv4 != "" {
		ip := s.conn.IPv4
		hub.IP = &ip
	}
	return hub, true
}

// fillVendors resolves missing vendor names from the MAC prefix table.
// The hub browser leaves vendor_name empty for many hosts, randomized
// MACs stay unresolved either way.
func (s *Service) fillVendors(devices []model.Device) {
	if s.vendors == nil {
		return
	}
	for i := range devices {
		if devices[i].Vendor != "" {
			continue
		}
		if vendor, ok := s.vendors.Vendor(devices[i].MAC); ok {
			devices[i].Vendor = vendor
		}
	}
}

// noteNewDevices detects first sightings against the persisted registry,
// records them, and returns the events to publish once the snapshot is
// swapped in. The known set is seeded from storage on the first cycle so
// a restart never re-announces the whole network.
func (s *Service) noteNewDevices(ctx context.Context, live []model.Device, registered map[string]model.DeviceRegistered, now time.Time) []event.Event {
	s.mu.Lock()
	if !s.seeded {
		for mac := range registered {
			s.knownMACs[mac] = struct{}{}
		}
		s.seeded = true
	}
	var fresh []string
	for _, dev := range live {
		if _, known := s.knownMACs[dev.MAC]; !known {
			s.knownMACs[dev.MAC] = struct{}{}
			fresh = append(fresh, dev.MAC)
		}
	}
	s.mu.Unlock()

	events := make([]event.Event, 0, len(fresh))
	for _, mac := range fresh {
		if err := s.repo.EnsureDeviceSeen(ctx, mac, now); err != nil {
			s.logger.Warn("recording device sighting failed", "mac", mac, "err", err)
		}
		if _, ok := registered[mac]; !ok {
			registered[mac] = model.DeviceRegistered{MAC: mac, CreatedAt: now, UpdatedAt: now}
		}
		s.logger.Info("new device discovered", "mac", mac)
		events = append(events, event.Event{Type: event.TypeDeviceNew, Subject: mac, At: now})
	}
	return events
}

func (s *Service) noteNewNodes(ctx context.Context, nodes []homebox.Node, settings map[int]model.NodeSetting, now time.Time) []event.Event {
	s.mu.Lock()
	if !s.nodesSeeded {
		for id := range settings {
			s.knownNodes[id] = struct{}{}
		}
		s.nodesSeeded = true
	}
	var fresh []int
	for _, node := range nodes {
		if _, known := s.knownNodes[node.ID]; !known {
			s.knownNodes[node.ID] = struct{}{}
			fresh = append(fresh, node.ID)
		}
	}
	s.mu.Unlock()

	events := make([]event.Event, 0, len(fresh))
	for _, id := range fresh {
		if err := s.repo.EnsureNodeSeen(ctx, id, now); err != nil {
			s.logger.Warn("recording node sighting failed", "node", id, "err", err)
		}
		s.logger.Info("new home node discovered", "node", id)
		events = append(events, event.Event{Type: event.TypeDeviceNew, Subject: nodeSubject(id), At: now})
	}
	return events
}

// assemble builds the snapshot from the cycle scratch. Sections whose
// subsystem failed transiently keep their previous content because the
// scratch still holds it.
func (s *Service) assemble(registered map[string]model.DeviceRegistered, now time.Time) Snapshot {
	snap := Snapshot{UpdatedAt: now}

	s.mu.Lock()
	live := s.liveDevices
	nodes := s.liveNodes
	settings := s.nodeSettings
	s.mu.Unlock()

	snap.Devices = storage.MergeDeviceViews(live, registered, now)
	snap.Sensors = s.assembleSensors()
	snap.Attributes = s.assembleAttributes(now)
	snap.Calls = s.calls
	snap.Disks = s.disks
	snap.Nodes = buildNodeViews(nodes, settings, now)
	return snap
}

func (s *Service) assembleSensors() []model.Sensor {
	sensors := []model.Sensor{}
	if s.hasSys {
		sensors = append(sensors, s.sys.Sensors...)
	}
	if s.hasConn {
		sensors = append(sensors,
			model.Sensor{ID: "rate_down", Name: "Download rate", Value: float64(s.conn.RateDown), Unit: "B/s"},
			model.Sensor{ID: "rate_up", Name: "Upload rate", Value: float64(s.conn.RateUp), Unit: "B/s"},
		)
	}
	if s.hasCalls {
		missed := 0
		for _, call := range s.calls {
			if call.Type == "missed" {
				missed++
			}
		}
		sensors = append(sensors, model.Sensor{ID: "missed_calls", Name: "Missed calls", Value: float64(missed)})
	}
	if s.hasDisks {
		for _, disk := range s.disks {
			for _, part := range disk.Partitions {
				if part.TotalBytes <= 0 {
					continue
				}
				usage := float64(part.UsedBytes) / float64(part.TotalBytes) * 100
				sensors = append(sensors, model.Sensor{
					ID:    fmt.Sprintf("disk_%d_%d_usage", disk.ID, part.ID),
					Name:  fmt.Sprintf("%s usage", part.Label),
					Value: math.Round(usage*10) / 10,
					Unit:  "%",
				})
			}
		}
	}
	return sensors
}

func (s *Service) assembleAttributes(now time.Time) model.HubAttributes {
	attrs := model.HubAttributes{FetchedAt: now}
	if s.hasSys {
		attrs.BoardName = s.sys.Attrs.BoardName
		attrs.Serial = s.sys.Attrs.Serial
		attrs.FirmwareVersion = s.sys.Attrs.FirmwareVersion
		attrs.UptimeSec = s.sys.Attrs.UptimeSec
	}
	if s.hasConn {
		attrs.ConnectionState = s.conn.State
		attrs.IPv4 = s.conn.IPv4
		attrs.IPv6 = s.conn.IPv6
	}
	return attrs
}

func buildNodeViews(nodes []homebox.Node, settings map[int]model.NodeSetting, now time.Time) []model.NodeView {
	views := make([]model.NodeView, 0, len(nodes))
	for _, node := range nodes {
		setting := settings[node.ID]
		if setting.Disabled {
			continue
		}
		views = append(views, buildNodeView(node, setting, now))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	return views
}

// buildNodeView flattens one node for the API. Shutter positions are
// inverted between hub convention (0 open, 100 closed) and the exposed
// one (100 open); a per-node invert setting flips quirky hardware back.
func buildNodeView(node homebox.Node, setting model.NodeSetting, now time.Time) model.NodeView {
	hwModel, _ := homebox.CategoryModel(node.Category, node.Type.Inherit)
	view := model.NodeView{
		ID:        node.ID,
		Label:     node.Label,
		Category:  node.Category,
		Model:     hwModel,
		Reachable: node.Reachable(),
		UpdatedAt: now,
	}
	if setting.Label != nil && strings.TrimSpace(*setting.Label) != "" {
		view.Label = strings.TrimSpace(*setting.Label)
	}
	view.Endpoints = make([]model.EndpointView, 0, len(node.ShowEndpoints))
	for _, ep := range node.ShowEndpoints {
		view.Endpoints = append(view.Endpoints, model.EndpointView{
			ID:    ep.ID,
			Name:  ep.Name,
			Type:  ep.EpType,
			Value: ep.Value,
		})
	}

	switch node.Category {
	case homebox.CategoryShutter, homebox.CategoryOpener, homebox.CategoryIOHome:
		if raw, ok := node.SignalValue("position_set"); ok {
			if value, ok := asInt(raw); ok {
				pos := 100 - value
				if setting.InvertPosition {
					pos = value
				}
				if pos < 0 {
					pos = 0
				}
				if pos > 100 {
					pos = 100
				}
				view.Position = &pos
			}
		}
	case homebox.CategoryAlarm:
		if raw, ok := node.SignalValue("state"); ok {
			if state, ok := raw.(string); ok && state != "" {
				view.State = &state
			}
		}
	}
	return view
}

func asInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func nodeSubject(nodeID int) string {
	return "node-" + strconv.Itoa(nodeID)
}

func normalizeMAC(mac string) string {
	return strings.TrimSpace(strings.ToUpper(strings.ReplaceAll(mac, "-", ":")))
}

// Snapshot returns the last assembled cycle state.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Devices lists the current device views, filtered and sorted with the
// gateway first, then reachable hardware by name.
func (s *Service) Devices(filter Filter) []model.DeviceView {
	s.mu.Lock()
	items := s.snapshot.Devices
	s.mu.Unlock()

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	result := make([]model.DeviceView, 0, len(items))
	for _, item := range items {
		if filter.Reachable != nil && item.Reachable != *filter.Reachable {
			continue
		}
		if filter.Registered != nil && item.Registered != *filter.Registered {
			continue
		}
		if query != "" && !matchesQuery(item, query) {
			continue
		}
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].IsHub != result[j].IsHub {
			return result[i].IsHub
		}
		if result[i].Reachable != result[j].Reachable {
			return result[i].Reachable
		}
		return result[i].Name < result[j].Name
	})
	return result
}

func matchesQuery(item model.DeviceView, query string) bool {
	if strings.Contains(strings.ToLower(item.Name), query) {
		return true
	}
	if strings.Contains(strings.ToLower(item.MAC), query) {
		return true
	}
	if strings.Contains(strings.ToLower(item.Vendor), query) {
		return true
	}
	if item.IP != nil && strings.Contains(strings.ToLower(*item.IP), query) {
		return true
	}
	return false
}

// Device returns one device view by MAC.
func (s *Service) Device(mac string) (model.DeviceView, error) {
	s.mu.Lock()
	items := s.snapshot.Devices
	s.mu.Unlock()
	return storage.FindDeviceView(items, normalizeMAC(mac))
}

// PatchDevice stores user metadata for a device and refreshes the
// served views without waiting for the next cycle.
func (s *Service) PatchDevice(ctx context.Context, mac string, name, icon *string) error {
	mac = normalizeMAC(mac)
	if err := s.repo.PatchRegistered(ctx, mac, name, icon); err != nil {
		return err
	}
	registered := s.loadRegistered(ctx)
	now := s.now().UTC()

	s.mu.Lock()
	s.snapshot.Devices = storage.MergeDeviceViews(s.liveDevices, registered, now)
	s.mu.Unlock()
	return nil
}

// Nodes lists the current node views.
func (s *Service) Nodes() []model.NodeView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot.Nodes
}

// Node returns one node view by id.
func (s *Service) Node(nodeID int) (model.NodeView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, view := range s.snapshot.Nodes {
		if view.ID == nodeID {
			return view, nil
		}
	}
	return model.NodeView{}, fmt.Errorf("%w: node %d", storage.ErrNotFound, nodeID)
}

// PatchNode stores per-node tuning and rebuilds the served node views.
func (s *Service) PatchNode(ctx context.Context, nodeID int, label *string, invertPosition, disabled *bool) error {
	if err := s.repo.PatchNodeSetting(ctx, nodeID, label, invertPosition, disabled); err != nil {
		return err
	}
	settings := s.loadNodeSettings(ctx)
	now := s.now().UTC()

	s.mu.Lock()
	s.snapshot.Nodes = buildNodeViews(s.liveNodes, settings, now)
	s.mu.Unlock()
	return nil
}

// EndpointValue reads one endpoint live, bypassing caches.
func (s *Service) EndpointValue(ctx context.Context, nodeID, endpointID int) (any, error) {
	cfg, ok := s.config.Get()
	if !ok {
		return nil, ErrNotConfigured
	}
	return s.client.FetchEndpointValue(ctx, cfg, nodeID, endpointID)
}

// Wifi reads the hub's current radio state.
func (s *Service) Wifi(ctx context.Context) (bool, error) {
	cfg, ok := s.config.Get()
	if !ok {
		return false, ErrNotConfigured
	}
	return s.client.FetchWifi(ctx, cfg)
}

// HubVersion probes the hub's unauthenticated descriptor.
func (s *Service) HubVersion(ctx context.Context) (homebox.VersionInfo, error) {
	cfg, ok := s.config.Get()
	if !ok {
		return homebox.VersionInfo{}, ErrNotConfigured
	}
	return s.client.Version(ctx, cfg)
}

// ProbeHub checks whether host:port answers like a Homebox, for
// discovery candidates that are not the configured hub.
func (s *Service) ProbeHub(ctx context.Context, host string, port int, useTLS bool) (homebox.VersionInfo, error) {
	cfg := model.HubConfig{Host: host, Port: port, UseTLS: useTLS}
	return s.client.Version(ctx, cfg)
}

// PairHub runs the interactive pairing flow against the configured hub.
func (s *Service) PairHub(ctx context.Context) error {
	cfg, ok := s.config.Get()
	if !ok {
		return ErrNotConfigured
	}
	return s.client.Pair(ctx, cfg)
}

// PairedStatus reports whether an app token exists for the configured hub.
func (s *Service) PairedStatus(ctx context.Context) (bool, error) {
	cfg, ok := s.config.Get()
	if !ok {
		return false, ErrNotConfigured
	}
	return s.client.Paired(ctx, cfg.Host)
}

// Unpair drops the stored app token so the next cycle demands pairing.
func (s *Service) Unpair(ctx context.Context) error {
	cfg, ok := s.config.Get()
	if !ok {
		return ErrNotConfigured
	}
	s.logger.Warn("dropping hub pairing", "host", cfg.Host)
	return s.repo.DeleteAppToken(ctx, cfg.Host)
}

// ClearCaches drops every subsystem slot so the next cycle refetches
// everything; used by the manual refresh endpoint.
func (s *Service) ClearCaches() {
	s.devicesCache.Clear()
	s.systemCache.Clear()
	s.connCache.Clear()
	s.callsCache.Clear()
	s.disksCache.Clear()
	s.nodesCache.Clear()
}

// ActiveBursts lists the fast-poll sessions currently running.
func (s *Service) ActiveBursts() []refresh.BurstInfo {
	return s.scheduler.ActiveBursts()
}

// fetchNodeLive reads one node from the hub, collapsing concurrent
// requests for the same node into one round trip, and folds the result
// into the served state.
func (s *Service) fetchNodeLive(ctx context.Context, nodeID int) (homebox.Node, error) {
	cfg, ok := s.config.Get()
	if !ok {
		return homebox.Node{}, ErrNotConfigured
	}
	value, err, _ := s.nodeFlight.Do(strconv.Itoa(nodeID), func() (any, error) {
		return s.client.FetchNode(ctx, cfg, nodeID)
	})
	if err != nil {
		return homebox.Node{}, err
	}
	node := value.(homebox.Node)
	s.storeNode(node)
	return node, nil
}

func (s *Service) storeNode(node homebox.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := make([]homebox.Node, len(s.liveNodes))
	copy(nodes, s.liveNodes)
	replaced := false
	for i := range nodes {
		if nodes[i].ID == node.ID {
			nodes[i] = node
			replaced = true
			break
		}
	}
	if !replaced {
		nodes = append(nodes, node)
	}
	s.liveNodes = nodes
}

// publishNodeUpdate rebuilds one node's served view from the freshest
// fetched state and announces it. The snapshot's node slice is replaced,
// never mutated, so concurrent readers keep a stable copy.
func (s *Service) publishNodeUpdate(nodeID int) {
	now := s.now().UTC()

	s.mu.Lock()
	var node homebox.Node
	found := false
	for _, n := range s.liveNodes {
		if n.ID == nodeID {
			node = n
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return
	}
	setting := s.nodeSettings[nodeID]
	if setting.Disabled {
		s.mu.Unlock()
		return
	}
	view := buildNodeView(node, setting, now)

	views := make([]model.NodeView, len(s.snapshot.Nodes))
	copy(views, s.snapshot.Nodes)
	replaced := false
	for i := range views {
		if views[i].ID == nodeID {
			views[i] = view
			replaced = true
			break
		}
	}
	if !replaced {
		views = append(views, view)
		sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })
	}
	s.snapshot.Nodes = views
	s.mu.Unlock()

	s.bus.Publish(event.Event{Type: event.TypeNodeUpdated, Subject: nodeSubject(nodeID), At: now})
}
