package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	"graphsync/internal/infra/blob/fs"
	"graphsync/internal/infra/blob/memory"
	"graphsync/internal/infra/blob/s3"
)

// Config selects and configures a blob backend.
type Config struct {
	Driver      Driver `yaml:"driver"`
	FSRoot      string `yaml:"fs_root"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// ConfigFromEnv reads the blob settings from the environment.
//
//	GRAPHSYNC_BLOB_DRIVER: fs|s3|memory (default fs)
//	GRAPHSYNC_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	GRAPHSYNC_BLOB_S3_BUCKET: bucket when driver=s3 (required)
//	GRAPHSYNC_BLOB_S3_REGION: region (default us-east-1)
//	GRAPHSYNC_BLOB_S3_ENDPOINT: custom endpoint, e.g. MinIO
//	GRAPHSYNC_BLOB_S3_PATH_STYLE: true|false (default false)
func ConfigFromEnv() Config {
	return Config{
		Driver:      Driver(os.Getenv("GRAPHSYNC_BLOB_DRIVER")),
		FSRoot:      os.Getenv("GRAPHSYNC_BLOB_FS_ROOT"),
		S3Bucket:    os.Getenv("GRAPHSYNC_BLOB_S3_BUCKET"),
		S3Region:    os.Getenv("GRAPHSYNC_BLOB_S3_REGION"),
		S3Endpoint:  os.Getenv("GRAPHSYNC_BLOB_S3_ENDPOINT"),
		S3PathStyle: strings.EqualFold(os.Getenv("GRAPHSYNC_BLOB_S3_PATH_STYLE"), "true"),
	}
}

// Open returns the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
