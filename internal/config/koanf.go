// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/census/config.yaml",
	"/etc/census/config.yml",
}

// ConfigPathEnvVar overrides the config file search entirely.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with every tunable at its production
// default. The values mirror the component package defaults so that a
// Config built here and one built from the component DefaultConfig
// constructors agree.
func defaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			RefreshMargin:  5 * time.Minute,
			RequestTimeout: 30 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: 1 * time.Second,
			RateLimit:      5,
			RateBurst:      5,
			PageSize:       999,
		},
		State: StateConfig{
			Path:             "/data/state",
			SyncWrites:       true,
			Compression:      true,
			GCRatio:          0.5,
			CloseTimeout:     30 * time.Second,
			CompactInterval:  1 * time.Hour,
			SeenLimit:        1000,
			SeenTrimTo:       500,
			MemTableSize:     16 * 1024 * 1024,
			ValueLogFileSize: 64 * 1024 * 1024,
			NumCompactors:    2,
			NumMemtables:     5,
			BlockCacheSize:   64 * 1024 * 1024,
			IndexCacheSize:   0,
		},
		Delivery: DeliveryConfig{
			Destinations: nil, // file-only, or implicit "local" when embedded
			Publisher: PublisherConfig{
				ConnectTimeout: 5 * time.Second,
				ReconnectWait:  2 * time.Second,
				MaxReconnects:  -1, // retry forever
				PublishRetries: 3,
				RetryWait:      100 * time.Millisecond,
				TrackMsgID:     true,
			},
			Batch: BatchConfig{
				MaxEvents: 256,
				MaxBytes:  1 << 20, // 1 MiB
			},
			Stream: JetStreamConfig{
				Name:       "CENSUS_EVENTS",
				Subjects:   []string{"occupancy.>"},
				MaxAge:     30 * 24 * time.Hour,
				Duplicates: 26 * time.Hour, // covers the default 24h max catch-up
				Replicas:   1,
			},
			Embedded: EmbeddedConfig{
				Enabled:    false,
				Host:       "127.0.0.1",
				Port:       4222,
				StoreDir:   "./data/nats",
				MaxPayload: 8 * 1024 * 1024,
			},
			ProvisionStream: true,
		},
		Streams: nil, // file-only, validation rejects an empty set
		Ops: OpsConfig{
			ListenAddr:        ":9614",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the process configuration from three layered sources:
//  1. Defaults: built-in production defaults
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: override any scalar setting
//
// Precedence is ENV > file > defaults. Stream and destination lists can
// only come from the file; environment variables override scalars inside
// the delivery, source, state, ops, and logging sections.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Comma-separated env values for known slice fields
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file. CONFIG_PATH wins when it
// points at an existing file, then the default paths are tried in order.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths are parsed as
// comma-separated slices when set from the environment.
var sliceConfigPaths = []string{
	"delivery.stream.subjects",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as strings but the config expects
// slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML or defaults)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Only explicitly mapped variables are loaded; everything else returns ""
// so unrelated environment noise (PATH, HOME, CI variables) never lands
// in the config map.
//
// Examples:
//   - SOURCE_BASE_URL -> source.base_url
//   - STATE_PATH -> state.path
//   - NATS_EMBEDDED -> delivery.embedded.enabled
//   - OPS_LISTEN_ADDR -> ops.listen_addr
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Sensor-cloud source
		"source_base_url":          "source.base_url",
		"source_login_url":         "source.login_url",
		"source_username":          "source.username",
		"source_password":          "source.password",
		"source_aggregate_view":    "source.aggregate_view",
		"source_device_rec_type":   "source.device_rec_type",
		"source_device_cluster_id": "source.device_cluster_id",
		"source_token_cache_file":  "source.token_cache_file",
		"source_refresh_margin":    "source.refresh_margin",
		"source_request_timeout":   "source.request_timeout",
		"source_max_retries":       "source.max_retries",
		"source_retry_base_delay":  "source.retry_base_delay",
		"source_rate_limit":        "source.rate_limit",
		"source_rate_burst":        "source.rate_burst",
		"source_page_size":         "source.page_size",

		// Watermark state store
		"state_path":                "state.path",
		"state_sync_writes":         "state.sync_writes",
		"state_compression":         "state.compression",
		"state_gc_ratio":            "state.gc_ratio",
		"state_close_timeout":       "state.close_timeout",
		"state_compact_interval":    "state.compact_interval",
		"state_seen_limit":          "state.seen_limit",
		"state_seen_trim_to":        "state.seen_trim_to",
		"state_memtable_size":       "state.memtable_size",
		"state_value_log_file_size": "state.value_log_file_size",
		"state_num_compactors":      "state.num_compactors",
		"state_num_memtables":       "state.num_memtables",
		"state_block_cache_size":    "state.block_cache_size",
		"state_index_cache_size":    "state.index_cache_size",

		// Delivery: publisher and batching
		"delivery_provision_stream": "delivery.provision_stream",
		"delivery_connect_timeout":  "delivery.publisher.connect_timeout",
		"delivery_reconnect_wait":   "delivery.publisher.reconnect_wait",
		"delivery_max_reconnects":   "delivery.publisher.max_reconnects",
		"delivery_publish_retries":  "delivery.publisher.publish_retries",
		"delivery_retry_wait":       "delivery.publisher.retry_wait",
		"delivery_track_msg_id":     "delivery.publisher.track_msg_id",
		"delivery_batch_max_events": "delivery.batch.max_events",
		"delivery_batch_max_bytes":  "delivery.batch.max_bytes",

		// Delivery: JetStream stream definition
		"delivery_stream_name":       "delivery.stream.name",
		"delivery_stream_subjects":   "delivery.stream.subjects",
		"delivery_stream_max_age":    "delivery.stream.max_age",
		"delivery_stream_duplicates": "delivery.stream.duplicates",
		"delivery_stream_replicas":   "delivery.stream.replicas",

		// Embedded NATS server
		"nats_embedded":             "delivery.embedded.enabled",
		"nats_embedded_host":        "delivery.embedded.host",
		"nats_embedded_port":        "delivery.embedded.port",
		"nats_embedded_store_dir":   "delivery.embedded.store_dir",
		"nats_embedded_max_payload": "delivery.embedded.max_payload",

		// Operational HTTP server
		"ops_listen_addr":         "ops.listen_addr",
		"ops_read_timeout":        "ops.read_timeout",
		"ops_write_timeout":       "ops.write_timeout",
		"ops_idle_timeout":        "ops.idle_timeout",
		"ops_shutdown_timeout":    "ops.shutdown_timeout",
		"ops_rate_limit_requests": "ops.rate_limit_requests",
		"ops_rate_limit_window":   "ops.rate_limit_window",
		"ops_disable_rate_limit":  "ops.rate_limit_disabled",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unknown variables are dropped rather than guessed at.
	return ""
}

// WatchConfigFile sets up a file watcher for hot-reload capability.
// The callback fires on every change to the file; callers re-run Load
// and decide which changes can apply without a restart.
//
// Example:
//
//	err := WatchConfigFile(configPath, func() {
//	    cfg, err := Load()
//	    if err != nil {
//	        logger.Error().Err(err).Msg("config reload failed, keeping previous")
//	        return
//	    }
//	    applyReloadable(cfg)
//	})
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)

	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
