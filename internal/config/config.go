// Copyright (c) 2024 The vecs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the server's required environment-variable
// configuration and an optional hot-reloadable YAML overlay for
// ambient operational settings that the env-var table does not cover.
package config

import (
	"os"
	"runtime"
	"strconv"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/riccardogiuriola/vecs/internal/logging"
)

// Config holds the fully resolved server configuration.
type Config struct {
	Port int

	ModelPath string

	L2Threshold       float64
	L2DedupeThreshold float64
	L2Capacity        int
	TTLDefault        int
	SaveIntervalSecs  int
	NumWorkers        int
	WorkerQueueCap    int
	SnapshotPath      string

	// Ambient settings, overlaid from an optional YAML file.
	LogPath      string
	LogLevel     string
	LogExpireDay int
	AdminPort    int
}

const (
	defaultPort           = 6380
	defaultModelPath      = "models/default_model.gguf"
	defaultL2Threshold    = 0.65
	defaultL2Dedupe       = 0.95
	defaultL2Capacity     = 5000
	defaultTTL            = 3600
	defaultSaveInterval   = 300
	defaultWorkerQueueCap = 256
	defaultSnapshotPath   = "data/dump.vecs"
	defaultLogPath        = "log"
	defaultLogLevel       = logging.LevelInfo
	defaultLogExpireDay   = 7
)

// Load resolves the required environment variables from spec §6, applies
// an optional YAML overlay named by CONFIG_FILE, and returns the merged
// configuration. Env vars always take precedence over the overlay file.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              envInt("PORT", defaultPort),
		ModelPath:         envStr("MODEL_PATH", defaultModelPath),
		L2Threshold:       envFloat("L2_THRESHOLD", defaultL2Threshold),
		L2DedupeThreshold: envFloat("L2_DEDUPE_THRESHOLD", defaultL2Dedupe),
		L2Capacity:        envInt("L2_CAPACITY", defaultL2Capacity),
		TTLDefault:        envInt("TTL_DEFAULT", defaultTTL),
		SaveIntervalSecs:  envInt("SAVE_INTERVAL", defaultSaveInterval),
		NumWorkers:        envInt("NUM_WORKERS", runtime.NumCPU()),
		WorkerQueueCap:    defaultWorkerQueueCap,
		SnapshotPath:      defaultSnapshotPath,
		LogPath:           defaultLogPath,
		LogLevel:          defaultLogLevel,
		LogExpireDay:      defaultLogExpireDay,
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = runtime.NumCPU()
	}

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		if err := overlayFromFile(cfg, file); err != nil {
			return nil, errors.Wrapf(err, "failed to load config overlay from %s", file)
		}
	}

	return cfg, nil
}

type overlay struct {
	LogPath      string `yaml:"log_path"`
	LogLevel     string `yaml:"log_level"`
	LogExpireDay int    `yaml:"log_expire_day"`
	AdminPort    int    `yaml:"admin_port"`
	SnapshotPath string `yaml:"snapshot_path"`
}

func overlayFromFile(cfg *Config, file string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrapf(err, "failed to read file from %s", file)
	}
	var o overlay
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return errors.Wrapf(err, "failed to unmarshal config from %s", file)
	}
	apply(cfg, o)
	return nil
}

func apply(cfg *Config, o overlay) {
	if o.LogPath != "" {
		cfg.LogPath = o.LogPath
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.LogExpireDay > 0 {
		cfg.LogExpireDay = o.LogExpireDay
	}
	if o.AdminPort > 0 {
		cfg.AdminPort = o.AdminPort
	}
	if o.SnapshotPath != "" {
		cfg.SnapshotPath = o.SnapshotPath
	}
}

// WatchLogLevel hot-reloads the overlay file's log_level field whenever it
// changes on disk, mirroring the teacher's fsnotify-driven config watch.
// It is a no-op when no CONFIG_FILE is configured.
func WatchLogLevel(file string) error {
	if file == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create config watcher")
	}
	if err := watcher.Add(file); err != nil {
		return errors.Wrapf(err, "failed to watch %s", file)
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				var o overlay
				raw, err := os.ReadFile(file)
				if err != nil {
					logging.Warnf("config watch: reread %s failed: %s", file, err)
					continue
				}
				if err := yaml.Unmarshal(raw, &o); err != nil {
					logging.Warnf("config watch: parse %s failed: %s", file, err)
					continue
				}
				if o.LogLevel != "" {
					logging.SetLevel(o.LogLevel)
					logging.Infof("config watch: log level changed to %s", o.LogLevel)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warnf("config watch error: %s", err)
			}
		}
	}()
	return nil
}

func envStr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
