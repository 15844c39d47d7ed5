package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Feeder gateway message types. All calls go to the single
// commonRequest endpoint; msgType selects the operation.
const (
	msgLogin        = 1000
	msgDevices      = 1401
	msgDeviceStatus = 2000
	msgFeed         = 2001
)

var (
	ErrFeederUnavailable = errors.New("feeder gateway not configured")
	ErrDeviceNotFound    = errors.New("feeder device not found")
	ErrNotLoggedIn       = errors.New("feeder login failed")
)

// Device is one entry from the gateway device list.
type Device struct {
	DevID   string `json:"devID"`
	DevName string `json:"devName"`
}

// DeviceStatus is the raw status document for one device. The gateway
// schema varies by device model, so it stays a loose map.
type DeviceStatus map[string]any

// feederSession holds the authkey across gateway calls.
type feederSession struct {
	mu      sync.Mutex
	authkey string
}

// envelope is the common gateway response shape: status 1 means OK,
// data carries the per-call payload.
type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func (c *Client) gatewayPost(ctx context.Context, payload map[string]any) (*envelope, error) {
	if strings.TrimSpace(c.cfg.FeederURL) == "" {
		return nil, ErrFeederUnavailable
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.FeederURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feeder gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feeder gateway: unexpected status %d", resp.StatusCode)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("feeder gateway: decode: %w", err)
	}
	return &env, nil
}

// Login authenticates against the gateway and caches the authkey.
func (c *Client) Login(ctx context.Context) error {
	env, err := c.gatewayPost(ctx, map[string]any{
		"msgType":  msgLogin,
		"userID":   c.cfg.UserID,
		"password": c.cfg.Password,
	})
	if err != nil {
		return err
	}
	if env.Status != 1 {
		return fmt.Errorf("%w: gateway status %d", ErrNotLoggedIn, env.Status)
	}
	var rows []struct {
		Authkey string `json:"authkey"`
	}
	if err := json.Unmarshal(env.Data, &rows); err != nil || len(rows) == 0 || rows[0].Authkey == "" {
		return fmt.Errorf("%w: no authkey in response", ErrNotLoggedIn)
	}
	c.sess.mu.Lock()
	c.sess.authkey = rows[0].Authkey
	c.sess.mu.Unlock()
	return nil
}

// authkey returns the cached key, logging in first if needed.
func (c *Client) authkey(ctx context.Context) (string, error) {
	c.sess.mu.Lock()
	key := c.sess.authkey
	c.sess.mu.Unlock()
	if key != "" {
		return key, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}
	c.sess.mu.Lock()
	key = c.sess.authkey
	c.sess.mu.Unlock()
	return key, nil
}

// resetAuth drops the cached key so the next call re-logs-in.
func (c *Client) resetAuth() {
	c.sess.mu.Lock()
	c.sess.authkey = ""
	c.sess.mu.Unlock()
}

// Devices lists the feeder devices visible to the account.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	key, err := c.authkey(ctx)
	if err != nil {
		return nil, err
	}
	env, err := c.gatewayPost(ctx, map[string]any{
		"msgType":   msgDevices,
		"authkey":   key,
		"userID":    c.cfg.UserID,
		"pageIndex": 0,
		"pageSize":  50,
	})
	if err != nil {
		return nil, err
	}
	if env.Status != 1 {
		// Stale authkey is the usual cause; force a fresh login next time.
		c.resetAuth()
		return nil, fmt.Errorf("device list: gateway status %d", env.Status)
	}
	var devices []Device
	if err := json.Unmarshal(env.Data, &devices); err != nil {
		return nil, fmt.Errorf("device list: decode: %w", err)
	}
	return devices, nil
}

// FindDevice resolves a device by its display name.
func (c *Client) FindDevice(ctx context.Context, name string) (Device, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if strings.TrimSpace(d.DevName) == name {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

// DeviceStatus queries the live status of one device.
func (c *Client) DeviceStatus(ctx context.Context, devID string) (DeviceStatus, error) {
	key, err := c.authkey(ctx)
	if err != nil {
		return nil, err
	}
	env, err := c.gatewayPost(ctx, map[string]any{
		"msgType": msgDeviceStatus,
		"authkey": key,
		"userID":  c.cfg.UserID,
		"devID":   devID,
	})
	if err != nil {
		return nil, err
	}
	if env.Status != 1 {
		c.resetAuth()
		return nil, fmt.Errorf("device status: gateway status %d", env.Status)
	}
	var rows []DeviceStatus
	if err := json.Unmarshal(env.Data, &rows); err != nil || len(rows) == 0 {
		return nil, fmt.Errorf("device status: empty response")
	}
	return rows[0], nil
}

// Feed dispatches count feed portions to the device.
func (c *Client) Feed(ctx context.Context, devID string, count int) error {
	if count <= 0 {
		count = 1
	}
	key, err := c.authkey(ctx)
	if err != nil {
		return err
	}
	env, err := c.gatewayPost(ctx, map[string]any{
		"msgType":   msgFeed,
		"authkey":   key,
		"userID":    c.cfg.UserID,
		"devID":     devID,
		"feedCount": count,
	})
	if err != nil {
		return err
	}
	if env.Status != 1 {
		c.resetAuth()
		return fmt.Errorf("feed: gateway status %d", env.Status)
	}
	return nil
}
