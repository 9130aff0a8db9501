// Package config parses the YAML configuration that drives cmd/start.
package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/arborstore/tfdb/internal/log"
)

// Config is the parsed, validated configuration for a single database
// process. The listen/log fields describe the out-of-scope transport
// surface but are still carried here since a real deployment config needs
// them even though this module doesn't terminate the socket itself.
type Config struct {
	RootDirectory    string
	ListenPort       string
	Timezone         *time.Location
	ChunkSize        int32
	SyncInterval     time.Duration
	CheckpointCached bool
	StopGracePeriod  time.Duration
}

var Instance Config

func init() {
	Instance.Timezone = time.UTC
	Instance.ChunkSize = defaultChunkSize
	Instance.SyncInterval = defaultSyncInterval
}

const (
	defaultChunkSize   = 256 * 1024 * 1024
	defaultSyncInterval = 500 * time.Millisecond
)

// Parse unmarshals data into an aux struct with yaml tags, then validates
// and coerces it into a Config, following utils/config.go's MktsConfig.Parse
// two-stage pattern (free-form YAML -> typed, validated struct).
func Parse(data []byte) (*Config, error) {
	var aux struct {
		RootDirectory    string `yaml:"root_directory"`
		ListenPort       string `yaml:"listen_port"`
		Timezone         string `yaml:"timezone"`
		LogLevel         string `yaml:"log_level"`
		ChunkSize        int64  `yaml:"chunk_size"`
		SyncIntervalMs   int64  `yaml:"sync_interval_ms"`
		CheckpointCached string `yaml:"checkpoint_cached"`
		StopGracePeriod  int    `yaml:"stop_grace_period"`
	}

	if err := yaml.Unmarshal(data, &aux); err != nil {
		return nil, err
	}

	cfg := &Config{
		ChunkSize:    defaultChunkSize,
		SyncInterval: defaultSyncInterval,
	}

	if aux.RootDirectory == "" {
		return nil, errors.New("invalid root directory")
	}
	cfg.RootDirectory = aux.RootDirectory

	if aux.ListenPort == "" {
		return nil, errors.New("invalid listen port")
	}
	cfg.ListenPort = aux.ListenPort

	tz, err := time.LoadLocation(aux.Timezone)
	if err != nil {
		return nil, errors.New("invalid timezone")
	}
	cfg.Timezone = tz

	if aux.LogLevel != "" {
		switch strings.ToLower(aux.LogLevel) {
		case "fatal":
			log.SetLevel(log.FATAL)
		case "error":
			log.SetLevel(log.ERROR)
		case "warning":
			log.SetLevel(log.WARNING)
		case "debug":
			log.SetLevel(log.DEBUG)
		case "info":
			fallthrough
		default:
			log.SetLevel(log.INFO)
		}
	}

	if aux.ChunkSize > 0 {
		cfg.ChunkSize = int32(aux.ChunkSize)
	}

	if aux.SyncIntervalMs > 0 {
		cfg.SyncInterval = time.Duration(aux.SyncIntervalMs) * time.Millisecond
	}

	if aux.CheckpointCached != "" {
		cached, err := strconv.ParseBool(aux.CheckpointCached)
		if err != nil {
			log.Error("invalid value %v for checkpoint_cached, defaulting to false", aux.CheckpointCached)
		} else {
			cfg.CheckpointCached = cached
		}
	}

	if aux.StopGracePeriod > 0 {
		cfg.StopGracePeriod = time.Duration(aux.StopGracePeriod) * time.Second
	}

	return cfg, nil
}
