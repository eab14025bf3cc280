package hub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/micro-ha/homebox-sync/addon/internal/configsync"
	"github.com/micro-ha/homebox-sync/addon/internal/event"
	"github.com/micro-ha/homebox-sync/addon/internal/homebox"
	"github.com/micro-ha/homebox-sync/addon/internal/model"
	"github.com/micro-ha/homebox-sync/addon/internal/oui"
	"github.com/micro-ha/homebox-sync/addon/internal/refresh"
	"github.com/micro-ha/homebox-sync/addon/internal/storage"
	"github.com/micro-ha/homebox-sync/addon/internal/timer"
)

type stubFetcher struct {
	result configsync.FetchResult
}

func (f stubFetcher) FetchConfig(ctx context.Context) (configsync.FetchResult, error) {
	return f.result, nil
}

// fakeHub is an APIClient backed by canned data; tests flip the err
// fields between cycles to drive failure paths. All access is locked
// because burst ticks call FetchNode from timer goroutines.
type fakeHub struct {
	mu sync.Mutex

	pairedResult bool
	pairedErr    error

	devices      []model.Device
	devicesErr   error
	devicesCalls int

	system      homebox.SystemInfo
	systemErr   error
	systemCalls int

	conn      homebox.ConnectionStatus
	connErr   error
	connCalls int

	calls        []homebox.CallEntry
	callsErr     error
	callLogCalls int

	disks      []model.Disk
	disksErr   error
	disksCalls int

	nodes      []homebox.Node
	nodesErr   error
	nodesCalls int

	fetchNodeCalls int

	endpointNode  int
	endpointID    int
	endpointValue any
	endpointCalls int

	wifiEnabled bool
	rebooted    bool
}

func (f *fakeHub) Paired(ctx context.Context, host string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pairedResult, f.pairedErr
}

func (f *fakeHub) Pair(ctx context.Context, cfg model.HubConfig) error { return nil }

func (f *fakeHub) Version(ctx context.Context, cfg model.HubConfig) (homebox.VersionInfo, error) {
	return homebox.VersionInfo{APIVersion: "9.0", DeviceName: "Homebox v9"}, nil
}

func (f *fakeHub) FetchLanHosts(ctx context.Context, cfg model.HubConfig) ([]model.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devicesCalls++
	return append([]model.Device(nil), f.devices...), f.devicesErr
}

func (f *fakeHub) FetchSystem(ctx context.Context, cfg model.HubConfig) (homebox.SystemInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.systemCalls++
	return f.system, f.systemErr
}

func (f *fakeHub) FetchConnection(ctx context.Context, cfg model.HubConfig) (homebox.ConnectionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connCalls++
	return f.conn, f.connErr
}

func (f *fakeHub) FetchCallLog(ctx context.Context, cfg model.HubConfig) ([]homebox.CallEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callLogCalls++
	return append([]homebox.CallEntry(nil), f.calls...), f.callsErr
}

func (f *fakeHub) FetchDisks(ctx context.Context, cfg model.HubConfig) ([]model.Disk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disksCalls++
	return append([]model.Disk(nil), f.disks...), f.disksErr
}

func (f *fakeHub) FetchNodes(ctx context.Context, cfg model.HubConfig) ([]homebox.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodesCalls++
	return append([]homebox.Node(nil), f.nodes...), f.nodesErr
}

func (f *fakeHub) FetchNode(ctx context.Context, cfg model.HubConfig, nodeID int) (homebox.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchNodeCalls++
	for _, node := range f.nodes {
		if node.ID == nodeID {
			return node, nil
		}
	}
	return homebox.Node{}, errors.New("no such node")
}

func (f *fakeHub) FetchEndpointValue(ctx context.Context, cfg model.HubConfig, nodeID, endpointID int) (any, error) {
	return nil, nil
}

func (f *fakeHub) SetEndpoint(ctx context.Context, cfg model.HubConfig, nodeID, endpointID int, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpointNode = nodeID
	f.endpointID = endpointID
	f.endpointValue = value
	f.endpointCalls++
	return nil
}

func (f *fakeHub) FetchWifi(ctx context.Context, cfg model.HubConfig) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wifiEnabled, nil
}

func (f *fakeHub) SetWifi(ctx context.Context, cfg model.HubConfig, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wifiEnabled = enabled
	return nil
}

func (f *fakeHub) Reboot(ctx context.Context, cfg model.HubConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebooted = true
	return nil
}

func (f *fakeHub) lastEndpoint() (node, ep int, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpointNode, f.endpointID, f.endpointValue
}

func (f *fakeHub) setCallsErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsErr = err
}

// newPopulatedHub returns a fake with one of everything: two LAN hosts,
// board sensors, WAN rates, a call log, a disk, a positionable shutter,
// a basic shutter, and an alarm panel.
func newPopulatedHub() *fakeHub {
	ip := "192.168.1.20"
	return &fakeHub{
		pairedResult: true,
		devices: []model.Device{
			{MAC: "AA:11:22:33:44:55", PrimaryName: "laptop", Vendor: "Clevo", HostType: "workstation", Reachable: true, IP: &ip},
			{MAC: "BB:11:22:33:44:55", PrimaryName: "printer", Vendor: "Brother", HostType: "printer", Reachable: false},
		},
		system: homebox.SystemInfo{
			MAC:        "C8:00:00:00:00:01",
			PrettyName: "Homebox v9 (r1)",
			Attrs: model.HubAttributes{
				BoardName:       "hb9",
				Serial:          "X9000123",
				FirmwareVersion: "9.0.1",
				UptimeSec:       3600,
			},
			Sensors: []model.Sensor{{ID: "temp_cpu", Name: "CPU", Value: 52, Unit: "°C"}},
		},
		conn: homebox.ConnectionStatus{
			State: "up", Media: "ftth", IPv4: "82.64.10.20", IPv6: "2a01::1",
			RateDown: 1000, RateUp: 200,
		},
		calls: []homebox.CallEntry{
			{ID: 1, Number: "0601020304", Type: "missed"},
			{ID: 2, Number: "0101010101", Type: "accepted"},
		},
		disks: []model.Disk{{
			ID: 1, Type: "internal", TotalBytes: 1000,
			Partitions: []model.Partition{{ID: 2, Label: "Stockage", TotalBytes: 1000, UsedBytes: 250, FreeBytes: 750}},
		}},
		nodes: []homebox.Node{
			{
				ID: 12, Label: "kitchen shutter", Category: homebox.CategoryShutter, Status: "active",
				ShowEndpoints: []homebox.Endpoint{{ID: 43, Name: "position_set", EpType: "signal", Value: float64(30)}},
				Type: homebox.NodeType{Endpoints: []homebox.Endpoint{
					{ID: 41, Name: "position_set", EpType: "slot"},
					{ID: 42, Name: "stop", EpType: "slot"},
				}},
			},
			{
				ID: 30, Label: "garage door", Category: homebox.CategoryBasicShut, Status: "active",
				ShowEndpoints: []homebox.Endpoint{{ID: 54, Name: "state", EpType: "signal", Value: "idle"}},
				Type: homebox.NodeType{Endpoints: []homebox.Endpoint{
					{ID: 51, Name: "up", EpType: "slot"},
					{ID: 52, Name: "stop", EpType: "slot"},
					{ID: 53, Name: "down", EpType: "slot"},
				}},
			},
			{
				ID: 7, Label: "alarm", Category: homebox.CategoryAlarm, Status: "active",
				ShowEndpoints: []homebox.Endpoint{{ID: 64, Name: "state", EpType: "signal", Value: "idle"}},
				Type: homebox.NodeType{Endpoints: []homebox.Endpoint{
					{ID: 61, Name: "alarm1", EpType: "slot"},
					{ID: 62, Name: "alarm2", EpType: "slot"},
					{ID: 63, Name: "off", EpType: "slot"},
					{ID: 65, Name: "trigger", EpType: "slot"},
				}},
			},
		},
	}
}

func testConfig() model.HubConfig {
	return model.HubConfig{
		Version: 1, Host: "homebox.local", Port: 443, UseTLS: true,
		ScanIntervalSec: 30, BurstIntervalSec: 1, BurstDurationSec: 30,
	}
}

func newTestService(t *testing.T, client APIClient, cfg model.HubConfig, configured bool) (*Service, *event.Bus) {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo, err := storage.New(ctx, filepath.Join(t.TempDir(), "homebox_sync.db"), logger)
	if err != nil {
		t.Fatalf("storage.New() error: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	manager := configsync.NewManager(stubFetcher{result: configsync.FetchResult{Configured: configured, Config: cfg}}, logger)
	if _, err := manager.Refresh(ctx); err != nil {
		t.Fatalf("Manager.Refresh() error: %v", err)
	}

	registry := timer.NewRegistry(logger)
	t.Cleanup(registry.StopAll)
	scheduler := refresh.NewScheduler(registry, logger)
	t.Cleanup(scheduler.StopAll)

	bus := event.NewBus()
	t.Cleanup(bus.Close)

	return New(repo, client, manager, scheduler, bus, nil, logger), bus
}

func drainEvents(t *testing.T, ch <-chan event.Event, want int) []event.Event {
	t.Helper()
	events := make([]event.Event, 0, want)
	deadline := time.After(2 * time.Second)
	for len(events) < want {
		select {
		case ev := <-ch:
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("received %d of %d expected events", len(events), want)
		}
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected extra event %+v", ev)
	default:
	}
	return events
}

func TestUpdateAllAssemblesSnapshot(t *testing.T) {
	client := newPopulatedHub()
	svc, bus := newTestService(t, client, testConfig(), true)
	ctx := context.Background()

	_, ch := bus.Subscribe()
	if err := svc.UpdateAll(ctx); err != nil {
		t.Fatalf("UpdateAll() error: %v", err)
	}

	// 2 LAN hosts + the hub itself + 3 nodes announced, then one
	// state_updated closing the cycle.
	events := drainEvents(t, ch, 7)
	news := 0
	for _, ev := range events[:6] {
		if ev.Type != event.TypeDeviceNew {
			t.Fatalf("event %+v, want %s", ev, event.TypeDeviceNew)
		}
		news++
	}
	if news != 6 {
		t.Fatalf("device_new events = %d, want 6", news)
	}
	if events[6].Type != event.TypeStateUpdated {
		t.Fatalf("last event = %+v, want %s", events[6], event.TypeStateUpdated)
	}

	snap := svc.Snapshot()
	if snap.UpdatedAt.IsZero() {
		t.Fatal("snapshot has zero UpdatedAt")
	}
	if len(snap.Devices) != 3 {
		t.Fatalf("snapshot devices = %d, want 3", len(snap.Devices))
	}
	hubView, err := svc.Device("c8:00:00:00:00:01")
	if err != nil {
		t.Fatalf("Device(hub) error: %v", err)
	}
	if !hubView.IsHub || hubView.Vendor != "Homebox" || hubView.Name != "Homebox v9 (r1)" {
		t.Fatalf("hub view = %+v", hubView)
	}
	if hubView.IP == nil || *hubView.IP != "82.64.10.20" {
		t.Fatalf("hub IP = %v, want WAN address", hubView.IP)
	}

	wantSensors := map[string]float64{
		"temp_cpu":       52,
		"rate_down":      1000,
		"rate_up":        200,
		"missed_calls":   1,
		"disk_1_2_usage": 25,
	}
	if len(snap.Sensors) != len(wantSensors) {
		t.Fatalf("sensors = %d, want %d: %+v", len(snap.Sensors), len(wantSensors), snap.Sensors)
	}
	for _, sensor := range snap.Sensors {
		want, ok := wantSensors[sensor.ID]
		if !ok {
			t.Fatalf("unexpected sensor %q", sensor.ID)
		}
		if sensor.Value != want {
			t.Fatalf("sensor %q = %v, want %v", sensor.ID, sensor.Value, want)
		}
	}

	if snap.Attributes.BoardName != "hb9" || snap.Attributes.FirmwareVersion != "9.0.1" {
		t.Fatalf("attributes = %+v", snap.Attributes)
	}
	if snap.Attributes.ConnectionState != "up" || snap.Attributes.IPv4 != "82.64.10.20" {
		t.Fatalf("attributes connection = %+v", snap.Attributes)
	}

	if len(snap.Nodes) != 3 {
		t.Fatalf("nodes = %d, want 3", len(snap.Nodes))
	}
	if snap.Nodes[0].ID != 7 || snap.Nodes[1].ID != 12 || snap.Nodes[2].ID != 30 {
		t.Fatalf("node order = %d,%d,%d, want 7,12,30", snap.Nodes[0].ID, snap.Nodes[1].ID, snap.Nodes[2].ID)
	}

	shutter, err := svc.Node(12)
	if err != nil {
		t.Fatalf("Node(12) error: %v", err)
	}
	if shutter.Position == nil || *shutter.Position != 70 {
		t.Fatalf("shutter position = %v, want 70", shutter.Position)
	}
	if shutter.Model != "" {
		t.Fatalf("shutter model = %q, want empty", shutter.Model)
	}

	alarm, err := svc.Node(7)
	if err != nil {
		t.Fatalf("Node(7) error: %v", err)
	}
	if alarm.State == nil || *alarm.State != "idle" {
		t.Fatalf("alarm state = %v, want idle", alarm.State)
	}
	if alarm.Model != "HB-SEC07A" {
		t.Fatalf("alarm model = %q, want HB-SEC07A", alarm.Model)
	}
}

func TestUpdateAllAnnouncesEachDeviceOnce(t *testing.T) {
	client := newPopulatedHub()
	svc, bus := newTestService(t, client, testConfig(), true)
	ctx := context.Background()

	_, ch := bus.Subscribe()
	if err := svc.UpdateAll(ctx); err != nil {
		t.Fatalf("UpdateAll() error: %v", err)
	}
	drainEvents(t, ch, 7)

	// Same inventory again: nothing new to announce.
	svc.ClearCaches()
	if err := svc.UpdateAll(ctx); err != nil {
		t.Fatalf("UpdateAll() second cycle error: %v", err)
	}
	events := drainEvents(t, ch, 1)
	if events[0].Type != event.TypeStateUpdated {
		t.Fatalf("second cycle event = %+v, want state_updated only", events[0])
	}

	// One new host joins the LAN.
	client.mu.Lock()
	client.devices = append(client.devices, model.Device{MAC: "CC:11:22:33:44:55", PrimaryName: "phone", Reachable: true})
	client.mu.Unlock()
	svc.ClearCaches()
	if err := svc.UpdateAll(ctx); err != nil {
		t.Fatalf("UpdateAll() third cycle error: %v", err)
	}
	events = drainEvents(t, ch, 2)
	if events[0].Type != event.TypeDeviceNew || events[0].Subject != "CC:11:22:33:44:55" {
		t.Fatalf("third cycle first event = %+v, want device_new for the phone", events[0])
	}
	if events[1].Type != event.TypeStateUpdated {
		t.Fatalf("third cycle last event = %+v, want state_updated", events[1])
	}
}

func TestFreshServiceDoesNotReannounceAfterRestart(t *testing.T) {
	client := newPopulatedHub()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo, err := storage.New(ctx, filepath.Join(t.TempDir(), "homebox_sync.db"), logger)
	if err != nil {
		t.Fatalf("storage.New() error: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	manager := configsync.NewManager(stubFetcher{result: configsync.FetchResult{Configured: true, Config: testConfig()}}, logger)
	if _, err := manager.Refresh(ctx); err != nil {
		t.Fatalf("Manager.Refresh() error: %v", err)
	}
	registry := timer.NewRegistry(logger)
	t.Cleanup(registry.StopAll)
	scheduler := refresh.NewScheduler(registry, logger)
	t.Cleanup(scheduler.StopAll)

	first := New(repo, client, manager, scheduler, event.NewBus(), nil, logger)
	if err := first.UpdateAll(ctx); err != nil {
		t.Fatalf("UpdateAll() first boot error: %v", err)
	}

	// Second service over the same database simulates an add-on restart.
	bus := event.NewBus()
	t.Cleanup(bus.Close)
	second := New(repo, client, manager, scheduler, bus, nil, logger)
	_, ch := bus.Subscribe()
	if err := second.UpdateAll(ctx); err != nil {
		t.Fatalf("UpdateAll() after restart error: %v", err)
	}
	events := drainEvents(t, ch, 1)
	if events[0].Type != event.TypeStateUpdated {
		t.Fatalf("restart cycle event = %+v, want state_updated only", events[0])
	}
}

func TestUpdateAllReusesCachedReads(t *testing.T) {
	client := newPopulatedHub()
	svc, _ := newTestService(t, client, testConfig(), true)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := svc.UpdateAll(ctx); err != nil {
			t.Fatalf("UpdateAll() cycle %d error: %v", i+1, err)
		}
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	counters := map[string]int{
		"lan_hosts":  client.devicesCalls,
		"system":     client.systemCalls,
		"connection": client.connCalls,
		"call_log":   client.callLogCalls,
		"storage":    client.disksCalls,
		"home_nodes": client.nodesCalls,
	}
	for feature, calls := range counters {
		if calls != 1 {
			t.Fatalf("%s fetched %d times across two cycles, want 1", feature, calls)
		}
	}
}

func TestUpdateAllIsolatesSubsystemFailures(t *testing.T) {
	client := newPopulatedHub()
	svc, bus := newTestService(t, client, testConfig(), true)
	ctx := context.Background()

	if err := svc.UpdateAll(ctx); err != nil {
		t.Fatalf("UpdateAll() error: %v", err)
	}
	if calls := svc.Snapshot().Calls; len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}

	// A transient failure keeps the previous section content.
	client.setCallsErr(errors.New("hub choked"))
	svc.ClearCaches()
	_, ch := bus.Subscribe()
	if err := svc.UpdateAll(ctx); err != nil {
		t.Fatalf("UpdateAll() with failing call log error: %v", err)
	}
	events := drainEvents(t, ch, 1)
	if events[0].Type != event.TypeStateUpdated {
		t.Fatalf("event = %+v, want state_updated despite the failure", events[0])
	}
	snap := svc.Snapshot()
	if len(snap.Calls) != 2 {
		t.Fatalf("calls after transient failure = %d, want stale 2", len(snap.Calls))
	}
	if len(snap.Devices) != 3 {
		t.Fatalf("devices after call log failure = %d, want 3", len(snap.Devices))
	}

	// A permission rejection empties the section until the hub grants it.
	client.setCallsErr(homebox.ErrPermissionDenied)
	svc.ClearCaches()
	if err := svc.UpdateAll(ctx); err != nil {
		t.Fatalf("UpdateAll() with denied call log error: %v", err)
	}
	snap = svc.Snapshot()
	if len(snap.Calls) != 0 {
		t.Fatalf("calls after permission rejection = %d, want 0", len(snap.Calls))
	}
	missed := false
	for _, sensor := range snap.Sensors {
		if sensor.ID == "missed_calls" {
			missed = true
		}
	}
	if missed {
		t.Fatal("missed_calls sensor still present after permission rejection")
	}

	// The grant returns: one clean cycle restores the section.
	client.setCallsErr(nil)
	svc.ClearCaches()
	if err := svc.UpdateAll(ctx); err != nil {
		t.Fatalf("UpdateAll() after grant error: %v", err)
	}
	if calls := svc.Snapshot().Calls; len(calls) != 2 {
		t.Fatalf("calls after grant = %d, want 2", len(calls))
	}
}

func TestUpdateAllRequiresConfigAndPairing(t *testing.T) {
	client := newPopulatedHub()
	svc, _ := newTestService(t, client, model.HubConfig{}, false)
	err := svc.UpdateAll(context.Background())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("UpdateAll() unconfigured = %v, want ErrNotConfigured", err)
	}

	client.pairedResult = false
	svc, _ = newTestService(t, client, testConfig(), true)
	err = svc.UpdateAll(context.Background())
	if !errors.Is(err, homebox.ErrNotPaired) {
		t.Fatalf("UpdateAll() unpaired = %v, want ErrNotPaired", err)
	}
}

func TestPatchNodeInvertsAndHides(t *testing.T) {
	client := newPopulatedHub()
	svc, _ := newTestService(t, client, testConfig(), true)
	ctx := context.Background()

	if err := svc.UpdateAll(ctx); err != nil {
		t.Fatalf("UpdateAll() error: %v", err)
	}

	if err := svc.PatchNode(ctx, 12, nil, boolp(true), nil); err != nil {
		t.Fatalf("PatchNode(invert) error: %v", err)
	}
	shutter, err := svc.Node(12)
	if err != nil {
		t.Fatalf("Node(12) error: %v", err)
	}
	if shutter.Position == nil || *shutter.Position != 30 {
		t.Fatalf("inverted position = %v, want 30", shutter.Position)
	}

	if err := svc.PatchNode(ctx, 12, nil, nil, boolp(true)); err != nil {
		t.Fatalf("PatchNode(disable) error: %v", err)
	}
	if _, err := svc.Node(12); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Node(12) after disable = %v, want ErrNotFound", err)
	}
	if err := svc.SetCoverPosition(ctx, 12, 50); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("SetCoverPosition on disabled node = %v, want ErrNotFound", err)
	}
	if got := len(svc.Nodes()); got != 2 {
		t.Fatalf("visible nodes after disable = %d, want 2", got)
	}
}

func TestPatchDeviceUpdatesView(t *testing.T) {
	client := newPopulatedHub()
	svc, _ := newTestService(t, client, testConfig(), true)
	ctx := context.Background()

	if err := svc.UpdateAll(ctx); err != nil {
		t.Fatalf("UpdateAll() error: %v", err)
	}
	if err := svc.PatchDevice(ctx, "aa:11:22:33:44:55", strp("Work laptop"), strp("mdi:laptop")); err != nil {
		t.Fatalf("PatchDevice() error: %v", err)
	}

	view, err := svc.Device("AA:11:22:33:44:55")
	if err != nil {
		t.Fatalf("Device() error: %v", err)
	}
	if view.Name != "Work laptop" || !view.Registered {
		t.Fatalf("patched view = %+v", view)
	}
	if view.Icon == nil || *view.Icon != "mdi:laptop" {
		t.Fatalf("patched icon = %v", view.Icon)
	}
}

func TestUpdateAllFillsVendorFromPrefix(t *testing.T) {
	client := newPopulatedHub()
	client.devices = append(client.devices, model.Device{
		MAC: "B8:27:EB:00:11:22", PrimaryName: "pi", HostType: "workstation", Reachable: true,
	})
	svc, _ := newTestService(t, client, testConfig(), true)
	table, err := oui.Parse([]byte(`{"B827EB":"Raspberry Pi Foundation"}`))
	if err != nil {
		t.Fatalf("oui.Parse() error: %v", err)
	}
	svc.vendors = table

	if err := svc.UpdateAll(context.Background()); err != nil {
		t.Fatalf("UpdateAll() error: %v", err)
	}

	pi, err := svc.Device("B8:27:EB:00:11:22")
	if err != nil {
		t.Fatalf("Device() error: %v", err)
	}
	if pi.Vendor != "Raspberry Pi Foundation" {
		t.Fatalf("fallback vendor = %q, want Raspberry Pi Foundation", pi.Vendor)
	}

	// The hub browser's own vendor name wins over the prefix table.
	laptop, err := svc.Device("AA:11:22:33:44:55")
	if err != nil {
		t.Fatalf("Device() error: %v", err)
	}
	if laptop.Vendor != "Clevo" {
		t.Fatalf("reported vendor = %q, want Clevo", laptop.Vendor)
	}
}

func TestCoverCommandsStartBursts(t *testing.T) {
	client := newPopulatedHub()
	svc, _ := newTestService(t, client, testConfig(), true)
	ctx := context.Background()

	if err := svc.UpdateAll(ctx); err != nil {
		t.Fatalf("UpdateAll() error: %v", err)
	}

	if err := svc.SetCoverPosition(ctx, 12, 40); err != nil {
		t.Fatalf("SetCoverPosition() error: %v", err)
	}
	node, ep, value := client.lastEndpoint()
	if node != 12 || ep != 41 {
		t.Fatalf("SetEndpoint target = node %d ep %d, want node 12 ep 41", node, ep)
	}
	if value != 60 {
		t.Fatalf("SetEndpoint value = %v, want inverted 60", value)
	}
	if !svc.scheduler.Active("node-12") {
		t.Fatal("no burst running for node-12 after the command")
	}

	if err := svc.StopCover(ctx, 12); err != nil {
		t.Fatalf("StopCover() error: %v", err)
	}
	if _, ep, value = client.lastEndpoint(); ep != 42 || value != true {
		t.Fatalf("stop command = ep %d value %v, want ep 42 true", ep, value)
	}

	// Basic shutters pulse up/down instead of setting a position.
	if err := svc.OpenCover(ctx, 30); err != nil {
		t.Fatalf("OpenCover(basic) error: %v", err)
	}
	if _, ep, value = client.lastEndpoint(); ep != 51 || value != true {
		t.Fatalf("open command = ep %d value %v, want ep 51 true", ep, value)
	}
	if err := svc.CloseCover(ctx, 30); err != nil {
		t.Fatalf("CloseCover(basic) error: %v", err)
	}
	if _, ep, _ = client.lastEndpoint(); ep != 53 {
		t.Fatalf("close command ep = %d, want 53", ep)
	}
	if !svc.scheduler.Active("node-30") {
		t.Fatal("no burst running for node-30 after the command")
	}
}

func TestCoverPositionRespectsInvertSetting(t *testing.T) {
	client := newPopulatedHub()
	svc, _ := newTestService(t, client, testConfig(), true)
	ctx := context.Background()

	if err := svc.UpdateAll(ctx); err != nil {
		t.Fatalf("UpdateAll() error: %v", err)
	}
	if err := svc.PatchNode(ctx, 12, nil, boolp(true), nil); err != nil {
		t.Fatalf("PatchNode() error: %v", err)
	}
	if err := svc.SetCoverPosition(ctx, 12, 40); err != nil {
		t.Fatalf("SetCoverPosition() error: %v", err)
	}
	if _, _, value := client.lastEndpoint(); value != 40 {
		t.Fatalf("SetEndpoint value = %v, want uninverted 40", value)
	}
}

func TestAlarmCommands(t *testing.T) {
	client := newPopulatedHub()
	svc, _ := newTestService(t, client, testConfig(), true)
	ctx := context.Background()

	if err := svc.UpdateAll(ctx); err != nil {
		t.Fatalf("UpdateAll() error: %v", err)
	}

	modes := map[string]int{
		AlarmArmAway: 61,
		AlarmArmHome: 62,
		AlarmDisarm:  63,
		AlarmTrigger: 65,
	}
	for mode, wantEp := range modes {
		if err := svc.SetAlarmMode(ctx, 7, mode); err != nil {
			t.Fatalf("SetAlarmMode(%s) error: %v", mode, err)
		}
		if _, ep, value := client.lastEndpoint(); ep != wantEp || value != true {
			t.Fatalf("SetAlarmMode(%s) = ep %d value %v, want ep %d true", mode, ep, value, wantEp)
		}
	}

	if err := svc.SetAlarmMode(ctx, 7, "panic"); err == nil {
		t.Fatal("SetAlarmMode with unknown mode did not fail")
	}
	if err := svc.SetAlarmMode(ctx, 12, AlarmArmAway); err == nil {
		t.Fatal("SetAlarmMode on a shutter did not fail")
	}
}

func TestRebootRecordsMaintenance(t *testing.T) {
	client := newPopulatedHub()
	svc, _ := newTestService(t, client, testConfig(), true)
	ctx := context.Background()

	if err := svc.RebootHub(ctx); err != nil {
		t.Fatalf("RebootHub() error: %v", err)
	}
	client.mu.Lock()
	rebooted := client.rebooted
	client.mu.Unlock()
	if !rebooted {
		t.Fatal("hub never received the reboot call")
	}
	at, err := svc.repo.MaintenanceAt(ctx, storage.KeyLastReboot)
	if err != nil {
		t.Fatalf("MaintenanceAt() error: %v", err)
	}
	if at == nil {
		t.Fatal("reboot time not recorded")
	}
}

func strp(v string) *string { return &v }

func boolp(v bool) *bool { return &v }
