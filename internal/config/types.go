package config

// Config is the root of the rig configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Unrecognized keys are ignored so configs can carry forward-compatible
// sections; omitted keys take the defaults documented per field.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Engine  EngineConfig  `yaml:"engine"`
	History HistoryConfig `yaml:"history"`
	API     APIConfig     `yaml:"api"`
	Pprof   PprofConfig   `yaml:"pprof"`
	Cloud   CloudConfig   `yaml:"cloud"`
	Sensor  SensorConfig  `yaml:"sensor"`
	Tasks   TasksConfig   `yaml:"tasks"`
}

type LogConfig struct {
	// Level is one of trace/debug/info/warn/error. Default: info.
	Level   string        `yaml:"level"`
	Console *bool         `yaml:"console"`
	File    LogFileConfig `yaml:"file"`
}

type LogFileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// EngineConfig controls the task execution engine.
//
// MaxRetries is a pointer so an explicit 0 (no retries) can be told apart
// from an omitted field (default 3).
type EngineConfig struct {
	Workers       int    `yaml:"workers"`
	QueueSize     int    `yaml:"queue_size"`
	CheckInterval string `yaml:"check_interval"`
	MaxRetries    *int   `yaml:"max_retries"`
	RetryDelay    string `yaml:"retry_delay"`
	StopTimeout   string `yaml:"stop_timeout"`
}

// HistoryConfig selects the run/sample persistence backend.
// Driver is one of none/file/sqlite. Default: none.
type HistoryConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PprofConfig controls the optional profiling server. Binding a
// non-loopback address requires a token unless allow_insecure is set.
type PprofConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Token         string `yaml:"token"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// CloudConfig points at the farm cloud and the feeder gateway.
type CloudConfig struct {
	BaseURL    string `yaml:"base_url"`
	FeederURL  string `yaml:"feeder_url"`
	UserID     string `yaml:"user_id"`
	Password   string `yaml:"password"`
	Timeout    string `yaml:"timeout"`
	RatePerSec int    `yaml:"rate_per_sec"`
}

type SensorConfig struct {
	PollInterval string `yaml:"poll_interval"`
	DataDir      string `yaml:"data_dir"`
}

// TasksConfig enables and paces the built-in tasks.
type TasksConfig struct {
	Sensor       TaskConfig       `yaml:"sensor"`
	Heartbeat    TaskConfig       `yaml:"heartbeat"`
	Upload       UploadConfig     `yaml:"upload"`
	FeederStatus FeederTaskConfig `yaml:"feeder_status"`
	Feed         FeedTaskConfig   `yaml:"feed"`
	Cleanup      CleanupConfig    `yaml:"cleanup"`
}

// TaskConfig is the common shape of a built-in task entry.
// Enabled is a pointer so "omitted" can fall back to a per-task default.
type TaskConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

type UploadConfig struct {
	TaskConfig `yaml:",inline"`
	// Days bounds how far back the uploader looks for daily files.
	Days int `yaml:"days"`
}

type FeederTaskConfig struct {
	TaskConfig `yaml:",inline"`
	// Device is the feeder device name to query (e.g. "AI").
	Device string `yaml:"device"`
}

type FeedTaskConfig struct {
	TaskConfig `yaml:",inline"`
	// Device is the feeder device name to command (e.g. "AI").
	Device string `yaml:"device"`
	// Times lists the daily feeding times as HH:MM wall-clock entries.
	Times []string `yaml:"times"`
	// Portions is the feed count dispensed per trigger.
	Portions int `yaml:"portions"`
}

type CleanupConfig struct {
	TaskConfig `yaml:",inline"`
	RetentionDays int `yaml:"retention_days"`
}

// On reports whether the task entry is enabled, treating an omitted
// enabled key as def.
func (t TaskConfig) On(def bool) bool {
	if t.Enabled == nil {
		return def
	}
	return *t.Enabled
}
