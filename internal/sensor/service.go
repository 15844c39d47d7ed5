package sensor

import (
	"context"
	"sync"
	"time"

	"aquarig/internal/history"
	"aquarig/internal/runtime/supervisor"
	"aquarig/pkg/logx"
)

// Config configures the polling service.
type Config struct {
	PollInterval time.Duration
	DataDir      string
}

const defaultPollInterval = 10 * time.Second

// Service polls the sampler on its own loop, keeps the latest reading,
// and appends every reading to the daily CSV. When a history store is
// present, readings are persisted there as well.
type Service struct {
	cfg     Config
	sampler Sampler
	store   history.Store // may be nil
	log     logx.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	sup     *supervisor.Supervisor

	latest  Sample
	has     bool
	lastErr error

	csv *csvLog
}

func New(cfg Config, sampler Sampler, store history.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/sensor"
	}
	return &Service{
		cfg:     cfg,
		sampler: sampler,
		store:   store,
		log:     log.With(logx.String("svc", "sensor")),
		csv:     newCSVLog(cfg.DataDir),
	}
}

// DataDir exposes the CSV directory for the uploader and cleanup tasks.
func (s *Service) DataDir() string { return s.cfg.DataDir }

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Latest returns the most recent reading and whether one exists yet.
func (s *Service) Latest() (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.has
}

// LastError returns the most recent poll failure, cleared on success.
func (s *Service) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Fresh reports whether the latest reading is younger than maxAge.
func (s *Service) Fresh(maxAge time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.has && time.Since(s.latest.At) <= maxAge
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	stopCh := s.stopCh
	s.mu.Unlock()

	s.sup.Go0("sensor.poll", func(ctx context.Context) {
		s.pollLoop(ctx, stopCh)
	})
	s.log.Info("sensor service started",
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.String("data_dir", s.cfg.DataDir))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	err := sup.Stop(ctx)

	s.mu.Lock()
	cerr := s.csv.close()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return cerr
}

func (s *Service) pollLoop(ctx context.Context, stopCh <-chan struct{}) {
	// First reading right away so Latest is useful immediately.
	s.pollOnce(ctx)

	tick := time.NewTicker(s.cfg.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-tick.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Service) pollOnce(ctx context.Context) {
	sample, err := s.sampler.Sample(ctx)
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.log.Warn("sensor poll failed", logx.Err(err))
		return
	}
	if sample.At.IsZero() {
		sample.At = time.Now()
	}

	s.mu.Lock()
	s.latest = sample
	s.has = true
	s.lastErr = nil
	werr := s.csv.append(sample)
	s.mu.Unlock()
	if werr != nil {
		s.log.Warn("sensor csv write failed", logx.Err(werr))
	}

	if s.store != nil {
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := s.store.AppendSample(wctx, history.SampleEntry{
			At:              sample.At,
			DissolvedOxygen: sample.DissolvedOxygen,
			LiquidLevel:     sample.LiquidLevel,
			PH:              sample.PH,
			PHTemp:          sample.PHTemp,
			Turbidity:       sample.Turbidity,
			TurbidityTemp:   sample.TurbidityTemp,
		}); err != nil {
			s.log.Warn("sensor history write failed", logx.Err(err))
		}
		cancel()
	}
}
