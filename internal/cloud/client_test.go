package cloud

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"aquarig/pkg/logx"
)

func TestHeartbeatPostsJSON(t *testing.T) {
	t.Parallel()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/heartbeat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: 2 * time.Second}, logx.Nop())
	err := c.Heartbeat(context.Background(), map[string]any{"rig": "pond-3", "ph": 7.1})
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if got["rig"] != "pond-3" {
		t.Fatalf("payload = %v", got)
	}
}

func TestHeartbeatRejectsBadStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logx.Nop())
	if err := c.Heartbeat(context.Background(), map[string]any{}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestUploadFileMultipart(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sensor_2026_03_01.csv")
	if err := os.WriteFile(path, []byte("at,ph\n2026-03-01T00:00:00Z,7.2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var gotName, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/updata_file" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		gotType = r.FormValue("type")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		gotName = hdr.Filename
		b, _ := io.ReadAll(f)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, logx.Nop())
	if err := c.UploadFile(context.Background(), path, "sensor_data"); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if gotName != "sensor_2026_03_01.csv" || gotType != "sensor_data" {
		t.Fatalf("name=%q type=%q", gotName, gotType)
	}
	if gotBody == "" {
		t.Fatalf("file body not received")
	}
}

func TestUploadFileMissing(t *testing.T) {
	t.Parallel()
	c := New(Config{BaseURL: "http://127.0.0.1:0"}, logx.Nop())
	if err := c.UploadFile(context.Background(), "/no/such/file.csv", "sensor_data"); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

// fakeGateway implements the commonRequest protocol for tests.
func fakeGateway(t *testing.T, authkey string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		msgType, _ := req["msgType"].(float64)
		reply := func(status int, data any) {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "data": data})
		}
		switch int(msgType) {
		case 1000:
			if req["userID"] != "8112345" || req["password"] != "secret" {
				reply(0, nil)
				return
			}
			reply(1, []map[string]any{{"authkey": authkey}})
		case 1401:
			if req["authkey"] != authkey {
				reply(0, nil)
				return
			}
			reply(1, []map[string]any{
				{"devID": "dev-1", "devName": "AI"},
				{"devID": "dev-2", "devName": "backup"},
			})
		case 2000:
			if req["authkey"] != authkey || req["devID"] != "dev-1" {
				reply(0, nil)
				return
			}
			reply(1, []map[string]any{{"devID": "dev-1", "online": true, "hopper": "ok"}})
		case 2001:
			if req["authkey"] != authkey || req["devID"] != "dev-1" {
				reply(0, nil)
				return
			}
			if req["feedCount"].(float64) < 1 {
				reply(0, nil)
				return
			}
			reply(1, nil)
		default:
			reply(0, nil)
		}
	}))
}

func TestFeederFlow(t *testing.T) {
	t.Parallel()
	srv := fakeGateway(t, "k-123")
	defer srv.Close()
	ctx := context.Background()

	c := New(Config{FeederURL: srv.URL, UserID: "8112345", Password: "secret"}, logx.Nop())

	// Devices logs in implicitly.
	dev, err := c.FindDevice(ctx, "AI")
	if err != nil {
		t.Fatalf("FindDevice: %v", err)
	}
	if dev.DevID != "dev-1" {
		t.Fatalf("devID = %q", dev.DevID)
	}

	st, err := c.DeviceStatus(ctx, dev.DevID)
	if err != nil {
		t.Fatalf("DeviceStatus: %v", err)
	}
	if st["online"] != true {
		t.Fatalf("status = %v", st)
	}

	if err := c.Feed(ctx, dev.DevID, 2); err != nil {
		t.Fatalf("Feed: %v", err)
	}
}

func TestFeederLoginRejected(t *testing.T) {
	t.Parallel()
	srv := fakeGateway(t, "k-123")
	defer srv.Close()

	c := New(Config{FeederURL: srv.URL, UserID: "8112345", Password: "wrong"}, logx.Nop())
	if _, err := c.Devices(context.Background()); err == nil {
		t.Fatalf("expected login failure")
	}
}

func TestFeederUnconfigured(t *testing.T) {
	t.Parallel()
	c := New(Config{}, logx.Nop())
	if _, err := c.Devices(context.Background()); err == nil {
		t.Fatalf("expected ErrFeederUnavailable")
	}
}

func TestFindDeviceMissing(t *testing.T) {
	t.Parallel()
	srv := fakeGateway(t, "k-123")
	defer srv.Close()

	c := New(Config{FeederURL: srv.URL, UserID: "8112345", Password: "secret"}, logx.Nop())
	if _, err := c.FindDevice(context.Background(), "nope"); err == nil {
		t.Fatalf("expected ErrDeviceNotFound")
	}
}
