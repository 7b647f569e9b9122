// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package config

import "time"

// Config is the root configuration for the census process. It is populated
// by Load from defaults, an optional YAML file, and environment variables,
// then mapped onto the component config types via the constructors in
// mapping.go. Fields carry koanf tags for the loader and validate tags for
// the struct-level validation pass.
type Config struct {
	Source   SourceConfig   `koanf:"source"`
	State    StateConfig    `koanf:"state"`
	Delivery DeliveryConfig `koanf:"delivery"`
	Streams  []StreamConfig `koanf:"streams" validate:"required,min=1,dive"`
	Ops      OpsConfig      `koanf:"ops"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// SourceConfig configures the sensor-cloud client: where to log in, which
// aggregation view to query, and how aggressively to retry and rate-limit.
type SourceConfig struct {
	// BaseURL is the API root of the sensor cloud.
	BaseURL string `koanf:"base_url" validate:"required"`

	// LoginURL is the web-dashboard login endpoint that issues the
	// session JWT carrying the API bearer token.
	LoginURL string `koanf:"login_url" validate:"required"`

	// Username and Password authenticate the web login.
	Username string `koanf:"username" validate:"required"`
	Password string `koanf:"password" validate:"required"`

	// AggregateView is the master aggregation view identifier.
	AggregateView string `koanf:"aggregate_view" validate:"required"`

	// DeviceRecType and DeviceClusterID drive location discovery.
	DeviceRecType   string `koanf:"device_rec_type" validate:"required"`
	DeviceClusterID string `koanf:"device_cluster_id" validate:"required"`

	// TokenCacheFile persists the bearer token across restarts.
	// Empty disables on-disk caching.
	TokenCacheFile string `koanf:"token_cache_file"`

	RefreshMargin  time.Duration `koanf:"refresh_margin"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	MaxRetries     int           `koanf:"max_retries" validate:"min=1"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`

	// RateLimit is the sustained upstream request rate in requests per
	// second. Zero disables client-side rate limiting.
	RateLimit float64 `koanf:"rate_limit" validate:"min=0"`
	RateBurst int     `koanf:"rate_burst" validate:"min=0"`

	// PageSize is the records-per-page hint. The upstream caps it at 999.
	PageSize int `koanf:"page_size" validate:"min=1,max=999"`
}

// StateConfig configures the BadgerDB watermark store and its compactor.
type StateConfig struct {
	// Path is the BadgerDB directory. Must be on a durable filesystem.
	Path string `koanf:"path" validate:"required"`

	// SyncWrites forces fsync after every commit. Disabling trades the
	// most recent watermark on power loss for write throughput.
	SyncWrites  bool `koanf:"sync_writes"`
	Compression bool `koanf:"compression"`

	GCRatio         float64       `koanf:"gc_ratio"`
	CloseTimeout    time.Duration `koanf:"close_timeout"`
	CompactInterval time.Duration `koanf:"compact_interval"`

	// SeenLimit and SeenTrimTo bound the per-stream seen-event set.
	SeenLimit  int `koanf:"seen_limit" validate:"min=1"`
	SeenTrimTo int `koanf:"seen_trim_to" validate:"min=0"`

	// Badger tuning. Zero values fall back to the state package defaults.
	MemTableSize     int64 `koanf:"memtable_size"`
	ValueLogFileSize int64 `koanf:"value_log_file_size"`
	NumCompactors    int   `koanf:"num_compactors"`
	NumMemtables     int   `koanf:"num_memtables"`
	BlockCacheSize   int64 `koanf:"block_cache_size"`
	IndexCacheSize   int64 `koanf:"index_cache_size"`
}

// DeliveryConfig groups everything on the NATS side: the destination set,
// publisher behavior, batch sizing, the JetStream stream definition, and
// the optional embedded server.
type DeliveryConfig struct {
	// Destinations lists the JetStream clusters events fan out to.
	// May be empty only when the embedded server is enabled, in which
	// case normalize adds an implicit "local" destination.
	Destinations []DestinationConfig `koanf:"destinations" validate:"dive"`

	Publisher PublisherConfig `koanf:"publisher"`
	Batch     BatchConfig     `koanf:"batch"`
	Stream    JetStreamConfig `koanf:"stream"`
	Embedded  EmbeddedConfig  `koanf:"embedded"`

	// ProvisionStream creates or updates the JetStream stream on every
	// destination at startup.
	ProvisionStream bool `koanf:"provision_stream"`
}

// DestinationConfig describes one fan-out destination.
type DestinationConfig struct {
	// ID names the destination in logs, metrics, and delivery outcomes.
	ID string `koanf:"id" validate:"required"`

	// URL is the NATS endpoint, nats:// or tls://.
	URL string `koanf:"url" validate:"required"`

	// CredentialsFile is an optional NATS .creds file path.
	CredentialsFile string `koanf:"credentials_file"`

	// SubjectPrefix overrides the default "occupancy" subject root.
	SubjectPrefix string `koanf:"subject_prefix"`
}

// PublisherConfig tunes per-destination connection and publish retry
// behavior.
type PublisherConfig struct {
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	PublishRetries int           `koanf:"publish_retries" validate:"min=0"`
	RetryWait      time.Duration `koanf:"retry_wait"`

	// TrackMsgID sets Nats-Msg-Id headers so JetStream deduplicates
	// replayed events inside the duplicate window.
	TrackMsgID bool `koanf:"track_msg_id"`
}

// BatchConfig bounds how many events a single publish batch may carry.
type BatchConfig struct {
	MaxEvents int `koanf:"max_events" validate:"min=1"`
	MaxBytes  int `koanf:"max_bytes" validate:"min=1"`
}

// JetStreamConfig describes the stream provisioned on each destination.
type JetStreamConfig struct {
	Name     string        `koanf:"name" validate:"required"`
	Subjects []string      `koanf:"subjects" validate:"min=1"`
	MaxAge   time.Duration `koanf:"max_age"`

	// Duplicates is the JetStream deduplication window. It must cover
	// the largest stream MaxCatchUp so watermark replays deduplicate.
	Duplicates time.Duration `koanf:"duplicates"`
	Replicas   int           `koanf:"replicas" validate:"min=1"`
}

// EmbeddedConfig configures the optional in-process NATS server.
type EmbeddedConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Host       string `koanf:"host"`
	Port       int    `koanf:"port" validate:"min=0,max=65535"`
	StoreDir   string `koanf:"store_dir"`
	MaxPayload int32  `koanf:"max_payload"`
}

// StreamConfig defines one sync stream: what to fetch from the upstream
// aggregation endpoint and how to pace the watermark loop. Zero-valued
// pacing fields inherit the sync package defaults.
type StreamConfig struct {
	// ID keys the watermark record and the NATS subject. It must be a
	// single subject token: no spaces, dots, wildcards, or controls.
	ID string `koanf:"id" validate:"required,subjecttoken"`

	// RecType and ViewID select the upstream record type and view.
	RecType string `koanf:"rec_type" validate:"required"`
	ViewID  string `koanf:"view_id" validate:"required"`

	// DataContext and Fields shape the aggregation request payload.
	DataContext []string          `koanf:"data_context"`
	Fields      []string          `koanf:"fields"`
	Extra       map[string]string `koanf:"extra"`

	// IdentityFilter restricts discovery to locations whose identity
	// contains this substring, case-insensitively. Empty matches all.
	IdentityFilter string `koanf:"identity_filter"`

	// StripLocationPrefix is removed from location display names when
	// deriving fetch names.
	StripLocationPrefix string `koanf:"strip_location_prefix"`

	Interval   time.Duration `koanf:"interval"`
	Lookback   time.Duration `koanf:"lookback"`
	MaxCatchUp time.Duration `koanf:"max_catch_up"`

	// CommitPolicy is "all" or "any". Empty means "all".
	CommitPolicy string `koanf:"commit_policy" validate:"omitempty,oneof=all any"`

	GapInterval      time.Duration `koanf:"gap_interval"`
	FetchParallelism int           `koanf:"fetch_parallelism" validate:"min=0"`
}

// OpsConfig configures the operational HTTP server.
type OpsConfig struct {
	ListenAddr        string        `koanf:"listen_addr" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig configures the zerolog-backed logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}
