package hub

import (
	"context"
	"fmt"

	"github.com/micro-ha/homebox-sync/addon/internal/homebox"
	"github.com/micro-ha/homebox-sync/addon/internal/model"
	"github.com/micro-ha/homebox-sync/addon/internal/refresh"
	"github.com/micro-ha/homebox-sync/addon/internal/storage"
)

// Alarm modes accepted by SetAlarmMode.
const (
	AlarmArmAway = "arm_away"
	AlarmArmHome = "arm_home"
	AlarmDisarm  = "disarm"
	AlarmTrigger = "trigger"
)

var alarmCommands = map[string]string{
	AlarmArmAway: "alarm1",
	AlarmArmHome: "alarm2",
	AlarmDisarm:  "off",
	AlarmTrigger: "trigger",
}

// nodeForCommand resolves the freshest node state for a command,
// fetching live when the cycle has not seen the node yet. Disabled
// nodes are hidden from the command surface entirely.
func (s *Service) nodeForCommand(ctx context.Context, nodeID int) (homebox.Node, error) {
	s.mu.Lock()
	setting := s.nodeSettings[nodeID]
	var node homebox.Node
	found := false
	for _, n := range s.liveNodes {
		if n.ID == nodeID {
			node = n
			found = true
			break
		}
	}
	s.mu.Unlock()

	if setting.Disabled {
		return homebox.Node{}, fmt.Errorf("%w: node %d", storage.ErrNotFound, nodeID)
	}
	if found {
		return node, nil
	}
	return s.fetchNodeLive(ctx, nodeID)
}

// SetCoverPosition drives a positionable cover to position percent,
// 100 open. The hub counts the other way round, so the value is
// inverted on the wire unless the node is flagged inverted.
func (s *Service) SetCoverPosition(ctx context.Context, nodeID, position int) error {
	if position < 0 {
		position = 0
	}
	if position > 100 {
		position = 100
	}
	node, err := s.nodeForCommand(ctx, nodeID)
	if err != nil {
		return err
	}
	slot, ok := node.CommandID("slot", "position_set")
	if !ok {
		s.logger.Error("node lacks position_set slot", "node", nodeID, "category", node.Category)
		return fmt.Errorf("node %d does not support position", nodeID)
	}

	s.mu.Lock()
	inverted := s.nodeSettings[nodeID].InvertPosition
	s.mu.Unlock()

	value := 100 - position
	if inverted {
		value = position
	}
	return s.sendNodeCommand(ctx, node, slot, value, "position_set")
}

// OpenCover fully opens a cover. Basic shutters only know up/stop/down
// pulses; everything else goes through position 100.
func (s *Service) OpenCover(ctx context.Context, nodeID int) error {
	node, err := s.nodeForCommand(ctx, nodeID)
	if err != nil {
		return err
	}
	if node.Category == homebox.CategoryBasicShut {
		return s.pulseCommand(ctx, node, "up")
	}
	return s.SetCoverPosition(ctx, nodeID, 100)
}

// CloseCover fully closes a cover.
func (s *Service) CloseCover(ctx context.Context, nodeID int) error {
	node, err := s.nodeForCommand(ctx, nodeID)
	if err != nil {
		return err
	}
	if node.Category == homebox.CategoryBasicShut {
		return s.pulseCommand(ctx, node, "down")
	}
	return s.SetCoverPosition(ctx, nodeID, 0)
}

// StopCover halts a moving cover where it is.
func (s *Service) StopCover(ctx context.Context, nodeID int) error {
	node, err := s.nodeForCommand(ctx, nodeID)
	if err != nil {
		return err
	}
	slot, ok := node.CommandID("slot", "stop")
	if !ok {
		s.logger.Error("node lacks stop slot", "node", nodeID, "category", node.Category)
		return fmt.Errorf("node %d does not support stop", nodeID)
	}
	signal := "position_set"
	if node.Category == homebox.CategoryBasicShut {
		signal = "state"
	}
	return s.sendNodeCommand(ctx, node, slot, true, signal)
}

// pulseCommand fires one of a basic shutter's momentary slots.
func (s *Service) pulseCommand(ctx context.Context, node homebox.Node, name string) error {
	slot, ok := node.CommandID("slot", name)
	if !ok {
		s.logger.Error("node lacks command slot", "node", node.ID, "command", name, "category", node.Category)
		return fmt.Errorf("node %d does not support %s", node.ID, name)
	}
	return s.sendNodeCommand(ctx, node, slot, true, "state")
}

// SetAlarmMode switches an alarm control panel between its modes.
func (s *Service) SetAlarmMode(ctx context.Context, nodeID int, mode string) error {
	command, ok := alarmCommands[mode]
	if !ok {
		return fmt.Errorf("unknown alarm mode %q", mode)
	}
	node, err := s.nodeForCommand(ctx, nodeID)
	if err != nil {
		return err
	}
	if node.Category != homebox.CategoryAlarm {
		return fmt.Errorf("node %d is not an alarm", nodeID)
	}
	slot, ok := node.CommandID("slot", command)
	if !ok {
		s.logger.Error("alarm lacks command slot", "node", nodeID, "command", command)
		return fmt.Errorf("node %d does not support %s", nodeID, mode)
	}
	return s.sendNodeCommand(ctx, node, slot, true, "state")
}

// SetWifiEnabled toggles the hub radios.
func (s *Service) SetWifiEnabled(ctx context.Context, enabled bool) error {
	cfg, ok := s.config.Get()
	if !ok {
		return ErrNotConfigured
	}
	if err := s.client.SetWifi(ctx, cfg, enabled); err != nil {
		return err
	}
	s.logger.Info("wifi state changed", "enabled", enabled)
	return nil
}

// RebootHub asks the hub to restart and records the moment so the
// scheduled-reboot gate knows when the last one ran.
func (s *Service) RebootHub(ctx context.Context) error {
	cfg, ok := s.config.Get()
	if !ok {
		return ErrNotConfigured
	}
	if err := s.client.Reboot(ctx, cfg); err != nil {
		return err
	}
	if err := s.repo.SetMaintenanceAt(ctx, storage.KeyLastReboot, s.now().UTC()); err != nil {
		s.logger.Warn("recording reboot time failed", "err", err)
	}
	s.logger.Warn("hub reboot requested", "host", cfg.Host)
	return nil
}

// sendNodeCommand writes one endpoint value and opens a fast-poll burst
// on the commanded signal. A command on a node mid-burst replaces the
// running burst so the stability window restarts from the new motion.
func (s *Service) sendNodeCommand(ctx context.Context, node homebox.Node, endpointID int, value any, signal string) error {
	cfg, ok := s.config.Get()
	if !ok {
		return ErrNotConfigured
	}
	subject := nodeSubject(node.ID)
	s.scheduler.StopRefresh(subject)
	if err := s.client.SetEndpoint(ctx, cfg, node.ID, endpointID, value); err != nil {
		return err
	}
	s.logger.Debug("node command sent", "node", node.ID, "endpoint", endpointID, "value", value)
	s.startNodeBurst(ctx, cfg, node.ID, signal)
	return nil
}

// startNodeBurst arms the refresh scheduler to watch one node signal
// until it settles.
func (s *Service) startNodeBurst(ctx context.Context, cfg model.HubConfig, nodeID int, signal string) {
	tracker := &nodeTracker{svc: s, nodeID: nodeID, signal: signal}
	s.scheduler.StartRefresh(ctx, nodeSubject(nodeID), tracker, refresh.Options{
		Interval: cfg.BurstInterval(),
		Duration: cfg.BurstDuration(),
	})
}
