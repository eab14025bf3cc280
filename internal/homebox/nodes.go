package homebox

import (
	"context"
	"fmt"
	"net/http"

	"github.com/micro-ha/homebox-sync/addon/internal/model"
)

// FetchNodes lists every home-automation node with its visible endpoint
// values. A hub without the home pack answers null; empty list then.
func (c *Client) FetchNodes(ctx context.Context, cfg model.HubConfig) ([]Node, error) {
	var nodes []Node
	if err := c.get(ctx, cfg, "/home/nodes/", &nodes); err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []Node{}
	}
	return nodes, nil
}

// FetchNode reads one node with all its endpoint values in a single round
// trip; burst ticks use this to avoid per-endpoint requests.
func (c *Client) FetchNode(ctx context.Context, cfg model.HubConfig, nodeID int) (Node, error) {
	var node Node
	if err := c.get(ctx, cfg, fmt.Sprintf("/home/nodes/%d", nodeID), &node); err != nil {
		return Node{}, err
	}
	return node, nil
}

// FetchEndpointValue reads a single signal endpoint.
func (c *Client) FetchEndpointValue(ctx context.Context, cfg model.HubConfig, nodeID, endpointID int) (any, error) {
	var reply struct {
		Value any `json:"value"`
	}
	path := fmt.Sprintf("/home/endpoints/%d/%d", nodeID, endpointID)
	if err := c.get(ctx, cfg, path, &reply); err != nil {
		return nil, err
	}
	return reply.Value, nil
}

// SetEndpoint writes a slot endpoint value (cover position, alarm
// commands, actuator toggles).
func (c *Client) SetEndpoint(ctx context.Context, cfg model.HubConfig, nodeID, endpointID int, value any) error {
	path := fmt.Sprintf("/home/endpoints/%d/%d", nodeID, endpointID)
	return c.request(ctx, cfg, http.MethodPut, path, map[string]any{"value": value}, nil, true)
}

// FetchWifi reads whether the hub radio is enabled.
func (c *Client) FetchWifi(ctx context.Context, cfg model.HubConfig) (bool, error) {
	var reply struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.get(ctx, cfg, "/wifi/config/", &reply); err != nil {
		return false, err
	}
	return reply.Enabled, nil
}

// SetWifi toggles the hub radio.
func (c *Client) SetWifi(ctx context.Context, cfg model.HubConfig, enabled bool) error {
	return c.request(ctx, cfg, http.MethodPut, "/wifi/config/", map[string]bool{"enabled": enabled}, nil, true)
}

// Reboot asks the hub to restart. The hub drops every session on the way
// down; the next authenticated call logs in again.
func (c *Client) Reboot(ctx context.Context, cfg model.HubConfig) error {
	if err := c.request(ctx, cfg, http.MethodPost, "/system/reboot/", nil, nil, true); err != nil {
		return err
	}
	c.invalidateSession()
	return nil
}
