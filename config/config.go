/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package config holds the engine's tunables (§6.6) and loads them through
// viper. The engine itself only ever consumes a populated Config value — it
// never touches viper, the filesystem, or environment variables directly.
package config

import (
	"fmt"
	"time"

	units "github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of environment/configuration keys from §6.6.
type Config struct {
	Engine EngineConfig
	WAL    WALConfig
	Query  QueryConfig
	Server ServerConfig
	Time   TimeConfig
}

type EngineConfig struct {
	ShardCount               int
	EventPerZone              uint
	FillFactor                float64
	CompactionInterval        time.Duration
	SysIOThresholdMBPerSec    float64
	SysMemoryThresholdMB      uint64
	SegmentsPerMerge          int
	MaxCompactionConcurrency  int
}

type WALConfig struct {
	Fsync        bool
	Buffered     bool
	BufferSize   int64
	FsyncEveryN  int
	RotateEntries int
}

type QueryConfig struct {
	ColumnBlockCacheMaxBytes int64
	ZoneSurfCacheMaxBytes    int64
	StreamingBatchSize       int
}

type ServerConfig struct {
	BackpressureThresholdPercent int
}

type TimeConfig struct {
	Timezone           string
	WeekStart          time.Weekday
	UseCalendarBucketing bool
}

// Defaults returns the engine's baked-in defaults, applied before any
// override source is layered on top.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			ShardCount:               8,
			EventPerZone:             8192,
			FillFactor:               1.5,
			CompactionInterval:       30 * time.Second,
			SysIOThresholdMBPerSec:   80,
			SysMemoryThresholdMB:     512,
			SegmentsPerMerge:         4,
			MaxCompactionConcurrency: 2,
		},
		WAL: WALConfig{
			Fsync:         true,
			Buffered:      true,
			BufferSize:    1 << 20,
			FsyncEveryN:   1,
			RotateEntries: 1_000_000,
		},
		Query: QueryConfig{
			ColumnBlockCacheMaxBytes: 256 << 20,
			ZoneSurfCacheMaxBytes:    64 << 20,
			StreamingBatchSize:       4096,
		},
		Server: ServerConfig{
			BackpressureThresholdPercent: 80,
		},
		Time: TimeConfig{
			Timezone:             "UTC",
			WeekStart:            time.Monday,
			UseCalendarBucketing: false,
		},
	}
}

// Load layers a config file (any format viper supports), environment
// variables prefixed ENGINE_, and flags on top of Defaults(). path may be
// empty, in which case only env+flags+defaults apply.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("ENGINE")
	v.AutomaticEnv()
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return cfg, fmt.Errorf("binding flags: %w", err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	setIfPresent(v, "engine.shard_count", &cfg.Engine.ShardCount)
	setUintIfPresent(v, "engine.event_per_zone", &cfg.Engine.EventPerZone)
	setFloatIfPresent(v, "engine.fill_factor", &cfg.Engine.FillFactor)
	setDurationIfPresent(v, "engine.compaction_interval", &cfg.Engine.CompactionInterval)
	setFloatIfPresent(v, "engine.sys_io_threshold", &cfg.Engine.SysIOThresholdMBPerSec)
	if v.IsSet("engine.sys_memory_threshold_mb") {
		cfg.Engine.SysMemoryThresholdMB = v.GetUint64("engine.sys_memory_threshold_mb")
	}
	setIfPresent(v, "engine.segments_per_merge", &cfg.Engine.SegmentsPerMerge)

	if v.IsSet("wal.fsync") {
		cfg.WAL.Fsync = v.GetBool("wal.fsync")
	}
	if v.IsSet("wal.buffered") {
		cfg.WAL.Buffered = v.GetBool("wal.buffered")
	}
	if err := setByteSizeIfPresent(v, "wal.buffer_size", &cfg.WAL.BufferSize); err != nil {
		return cfg, err
	}
	setIfPresent(v, "wal.fsync_every_n", &cfg.WAL.FsyncEveryN)

	if err := setByteSizeIfPresent(v, "query.column_block_cache_max_bytes", &cfg.Query.ColumnBlockCacheMaxBytes); err != nil {
		return cfg, err
	}
	if err := setByteSizeIfPresent(v, "query.zone_surf_cache_max_bytes", &cfg.Query.ZoneSurfCacheMaxBytes); err != nil {
		return cfg, err
	}
	setIfPresent(v, "query.streaming_batch_size", &cfg.Query.StreamingBatchSize)

	setIfPresent(v, "server.backpressure_threshold", &cfg.Server.BackpressureThresholdPercent)

	if v.IsSet("time.timezone") {
		cfg.Time.Timezone = v.GetString("time.timezone")
	}
	if v.IsSet("time.week_start") {
		cfg.Time.WeekStart = time.Weekday(v.GetInt("time.week_start"))
	}
	if v.IsSet("time.use_calendar_bucketing") {
		cfg.Time.UseCalendarBucketing = v.GetBool("time.use_calendar_bucketing")
	}

	return cfg, nil
}

// Watch reloads path on every write and passes the recomputed Config to
// onChange, via viper's fsnotify-backed WatchConfig — for a long-running
// embedder that wants engine.*/wal.*/query.* tuning to apply without a
// restart. onChange is called from viper's own watcher goroutine.
func Watch(path string, flags *pflag.FlagSet, onChange func(Config)) error {
	if path == "" {
		return fmt.Errorf("watch requires a non-empty config file path")
	}
	v := viper.New()
	v.SetEnvPrefix("ENGINE")
	v.AutomaticEnv()
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("binding flags: %w", err)
		}
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	v.OnConfigChange(func(fsnotify.Event) {
		if cfg, err := Load(path, flags); err == nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()
	return nil
}

func setIfPresent(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		*dst = v.GetInt(key)
	}
}

func setUintIfPresent(v *viper.Viper, key string, dst *uint) {
	if v.IsSet(key) {
		*dst = uint(v.GetInt64(key))
	}
}

func setFloatIfPresent(v *viper.Viper, key string, dst *float64) {
	if v.IsSet(key) {
		*dst = v.GetFloat64(key)
	}
}

func setDurationIfPresent(v *viper.Viper, key string, dst *time.Duration) {
	if v.IsSet(key) {
		*dst = v.GetDuration(key)
	}
}

// setByteSizeIfPresent parses human-readable byte sizes ("512MiB") via
// docker/go-units, falling back to a raw integer if the string is plain digits.
func setByteSizeIfPresent(v *viper.Viper, key string, dst *int64) error {
	if !v.IsSet(key) {
		return nil
	}
	raw := v.GetString(key)
	if raw == "" {
		return nil
	}
	n, err := units.RAMInBytes(raw)
	if err != nil {
		return fmt.Errorf("parsing byte size for %s=%q: %w", key, raw, err)
	}
	*dst = n
	return nil
}
