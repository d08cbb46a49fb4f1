// Package config assembles the runtime settings of graphsync from an optional
// YAML file and GRAPHSYNC_* environment variables. Environment variables
// win over the file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/zeebo/errs"
	"gopkg.in/yaml.v3"

	"graphsync/internal/blob"
	"graphsync/internal/core"
)

// Error is the error class for configuration problems.
var Error = errs.Class("config")

// MetricsBackend selects the metrics recorder.
type MetricsBackend string

// Metrics backends.
const (
	MetricsNone       MetricsBackend = "none"
	MetricsPrometheus MetricsBackend = "prometheus"
	MetricsExpvar     MetricsBackend = "expvar"
)

// CommitLogNone disables the commit-log archive.
const CommitLogNone blob.Driver = "none"

// Config is the complete runtime configuration.
type Config struct {
	// Model is the path of the YAML entity model.
	Model     string             `yaml:"model"`
	Storage   core.StorageConfig `yaml:"storage"`
	Snapshots SnapshotConfig     `yaml:"snapshots"`
	// ValidateOnCommit runs the validation rules before every commit.
	ValidateOnCommit bool            `yaml:"validate_on_commit"`
	CommitLog        CommitLogConfig `yaml:"commit_log"`
	Metrics          MetricsConfig   `yaml:"metrics"`
}

// SnapshotConfig sizes the shared snapshot cache.
type SnapshotConfig struct {
	CacheSize int `yaml:"cache_size"`
}

// CommitLogConfig places the commit-log archive. Driver none keeps no
// archive.
type CommitLogConfig struct {
	Blob blob.Config `yaml:",inline"`
}

// Enabled reports whether committed change maps are archived.
func (c CommitLogConfig) Enabled() bool {
	return c.Blob.Driver != "" && c.Blob.Driver != CommitLogNone
}

// MetricsConfig selects the metrics recorder.
type MetricsConfig struct {
	Backend   MetricsBackend `yaml:"backend"`
	Namespace string         `yaml:"namespace"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Storage:          core.StorageConfig{Driver: core.StorageSQLite, SQLitePath: "graphsync.db"},
		Snapshots:        SnapshotConfig{CacheSize: 10000},
		ValidateOnCommit: true,
		CommitLog:        CommitLogConfig{Blob: blob.Config{Driver: CommitLogNone}},
		Metrics:          MetricsConfig{Backend: MetricsNone, Namespace: "graphsync"},
	}
}

// Load reads path on top of the defaults, applies the environment and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304: operator supplied config path
		if err != nil {
			return Config{}, Error.New("read %s: %v", path, err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, Error.New("parse %s: %v", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// applyEnv overrides cfg with the GRAPHSYNC_* variables that are set.
//
//	GRAPHSYNC_MODEL: entity model file
//	GRAPHSYNC_STORAGE_DRIVER: memory|sqlite|postgres
//	GRAPHSYNC_SQLITE_PATH, GRAPHSYNC_POSTGRES_DSN, GRAPHSYNC_APPLY_DDL
//	GRAPHSYNC_SNAPSHOT_CACHE_SIZE: snapshot cache capacity
//	GRAPHSYNC_VALIDATE_ON_COMMIT: true|false
//	GRAPHSYNC_COMMITLOG_DRIVER: none|memory|fs|s3
//	GRAPHSYNC_BLOB_FS_ROOT, GRAPHSYNC_BLOB_S3_BUCKET, GRAPHSYNC_BLOB_S3_REGION,
//	GRAPHSYNC_BLOB_S3_ENDPOINT, GRAPHSYNC_BLOB_S3_PATH_STYLE
//	GRAPHSYNC_METRICS_BACKEND: none|prometheus|expvar
//	GRAPHSYNC_METRICS_NAMESPACE
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	env := envReader{lookup: lookup}
	env.string("GRAPHSYNC_MODEL", &cfg.Model)
	env.string("GRAPHSYNC_STORAGE_DRIVER", (*string)(&cfg.Storage.Driver))
	env.string("GRAPHSYNC_SQLITE_PATH", &cfg.Storage.SQLitePath)
	env.string("GRAPHSYNC_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	env.bool("GRAPHSYNC_APPLY_DDL", &cfg.Storage.ApplyDDL)
	env.int("GRAPHSYNC_SNAPSHOT_CACHE_SIZE", &cfg.Snapshots.CacheSize)
	env.bool("GRAPHSYNC_VALIDATE_ON_COMMIT", &cfg.ValidateOnCommit)
	env.string("GRAPHSYNC_COMMITLOG_DRIVER", (*string)(&cfg.CommitLog.Blob.Driver))
	env.string("GRAPHSYNC_BLOB_FS_ROOT", &cfg.CommitLog.Blob.FSRoot)
	env.string("GRAPHSYNC_BLOB_S3_BUCKET", &cfg.CommitLog.Blob.S3Bucket)
	env.string("GRAPHSYNC_BLOB_S3_REGION", &cfg.CommitLog.Blob.S3Region)
	env.string("GRAPHSYNC_BLOB_S3_ENDPOINT", &cfg.CommitLog.Blob.S3Endpoint)
	env.bool("GRAPHSYNC_BLOB_S3_PATH_STYLE", &cfg.CommitLog.Blob.S3PathStyle)
	env.string("GRAPHSYNC_METRICS_BACKEND", (*string)(&cfg.Metrics.Backend))
	env.string("GRAPHSYNC_METRICS_NAMESPACE", &cfg.Metrics.Namespace)
	return env.err
}

// envReader ignores empty variables and collects the first malformed value.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(name)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) string(name string, dst *string) {
	if v, ok := e.get(name); ok && v != "" {
		*dst = v
	}
}

func (e *envReader) bool(name string, dst *bool) {
	v, ok := e.get(name)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v)
		return
	}
	*dst = b
}

func (e *envReader) int(name string, dst *int) {
	v, ok := e.get(name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, v)
		return
	}
	*dst = n
}

func (e *envReader) fail(name, value string) {
	if e.err == nil {
		e.err = Error.New("%s: invalid value %q", name, value)
	}
}

// Validate checks the enumerated settings.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return Error.New("storage driver postgres needs postgres_dsn")
		}
	default:
		return Error.New("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Snapshots.CacheSize < 0 {
		return Error.New("snapshot cache size %d is negative", c.Snapshots.CacheSize)
	}
	switch c.CommitLog.Blob.Driver {
	case "", CommitLogNone, blob.DriverMemory, blob.DriverFilesystem:
	case blob.DriverS3:
		if c.CommitLog.Blob.S3Bucket == "" {
			return Error.New("commit log driver s3 needs s3_bucket")
		}
	default:
		return Error.New("unknown commit log driver %q", c.CommitLog.Blob.Driver)
	}
	switch c.Metrics.Backend {
	case "", MetricsNone, MetricsPrometheus, MetricsExpvar:
	default:
		return Error.New("unknown metrics backend %q", c.Metrics.Backend)
	}
	return nil
}

// String renders the configuration as YAML with the postgres DSN masked.
func (c Config) String() string {
	if c.Storage.PostgresDSN != "" {
		c.Storage.PostgresDSN = "****"
	}
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}
