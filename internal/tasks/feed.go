package tasks

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"aquarig/internal/cloud"
	"aquarig/pkg/logx"
)

// FeedClient is the part of the cloud client the feeding task needs.
type FeedClient interface {
	FindDevice(ctx context.Context, name string) (cloud.Device, error)
	Feed(ctx context.Context, devID string, count int) error
}

const defaultFeedPortions = 1

var defaultFeedTimes = []string{"04:00", "10:00", "16:00", "22:00"}

// Feed dispenses feed at fixed wall-clock times. It runs on a short
// interval (about a minute); each pass checks whether the current minute
// matches one of the configured HH:MM times and feeds at most once per
// time point per day. A failed attempt is not marked, so retries within
// the same minute can still succeed.
type Feed struct {
	client   FeedClient
	device   string
	times    []string
	portions int
	log      logx.Logger

	mu        sync.Mutex
	triggered map[string]struct{}

	now func() time.Time
}

func NewFeed(client FeedClient, device string, times []string, portions int, log logx.Logger) *Feed {
	if log.IsZero() {
		log = logx.Nop()
	}
	if device == "" {
		device = "AI"
	}
	if portions <= 0 {
		portions = defaultFeedPortions
	}
	norm := normalizeFeedTimes(times)
	if len(norm) == 0 {
		norm = append([]string(nil), defaultFeedTimes...)
	}
	return &Feed{
		client:    client,
		device:    device,
		times:     norm,
		portions:  portions,
		log:       log,
		triggered: map[string]struct{}{},
		now:       time.Now,
	}
}

func (t *Feed) ID() string   { return "feed" }
func (t *Feed) Name() string { return "scheduled feeding" }
func (t *Feed) Description() string {
	return "dispenses feed portions at fixed daily times"
}

func (t *Feed) Execute(ctx context.Context) error {
	key, due := t.due()
	if !due {
		return nil
	}
	dev, err := t.client.FindDevice(ctx, t.device)
	if err != nil {
		return fmt.Errorf("resolve feeder %q: %w", t.device, err)
	}
	if err := t.client.Feed(ctx, dev.DevID, t.portions); err != nil {
		return fmt.Errorf("feed %s: %w", dev.DevID, err)
	}
	t.mark(key)
	t.log.Info("feed dispensed",
		logx.String("device", dev.DevName),
		logx.Int("portions", t.portions),
		logx.String("slot", key))
	return nil
}

// due reports whether the current minute is a configured feeding time
// that has not fired today, and prunes trigger marks from earlier days.
func (t *Feed) due() (string, bool) {
	now := t.now()
	day := now.Format("2006-01-02")
	hhmm := now.Format("15:04")
	key := day + "|" + hhmm

	t.mu.Lock()
	defer t.mu.Unlock()

	for k := range t.triggered {
		if !strings.HasPrefix(k, day+"|") {
			delete(t.triggered, k)
		}
	}
	if _, done := t.triggered[key]; done {
		return key, false
	}
	for _, want := range t.times {
		if hhmm == want {
			return key, true
		}
	}
	return key, false
}

func (t *Feed) mark(key string) {
	t.mu.Lock()
	t.triggered[key] = struct{}{}
	t.mu.Unlock()
}

// normalizeFeedTimes canonicalizes entries to zero-padded HH:MM and
// drops anything unparseable or out of range.
func normalizeFeedTimes(times []string) []string {
	var out []string
	for _, raw := range times {
		parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
		if len(parts) != 2 {
			continue
		}
		hh, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		mm, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
			continue
		}
		out = append(out, fmt.Sprintf("%02d:%02d", hh, mm))
	}
	return out
}
