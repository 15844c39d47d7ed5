// Package cloud is the HTTP client for the farm cloud: heartbeats,
// daily-file uploads, and the feeder gateway protocol. All requests go
// through one rate limiter so bursts never saturate the cellular uplink.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"aquarig/pkg/logx"
)

// Config configures the cloud client.
//
// Timeout bounds every request; RatePerSec caps outbound requests
// across all callers (0 means unlimited).
type Config struct {
	BaseURL    string
	FeederURL  string
	UserID     string
	Password   string
	Timeout    time.Duration
	RatePerSec int
}

const defaultTimeout = 15 * time.Second

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger

	sess feederSession
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.FeederURL = strings.TrimSpace(cfg.FeederURL)

	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: lim,
		log:     log,
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Heartbeat posts a status document so the farm cloud knows the rig is
// alive. payload must be JSON-marshalable.
func (c *Client) Heartbeat(ctx context.Context, payload any) error {
	if c.cfg.BaseURL == "" {
		return errors.New("cloud base_url not configured")
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/heartbeat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// UploadFile sends one file as multipart form data. dataType labels the
// file category server-side ("sensor_data", "operation_logs", ...).
func (c *Client) UploadFile(ctx context.Context, path, dataType string) error {
	if c.cfg.BaseURL == "" {
		return errors.New("cloud base_url not configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := c.wait(ctx); err != nil {
		return err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := mw.WriteField("type", dataType); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/api/updata_file", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	defer drain(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload %s: unexpected status %d", filepath.Base(path), resp.StatusCode)
	}
	return nil
}

func drain(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 4096))
	_ = rc.Close()
}
