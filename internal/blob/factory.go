package blob

import (
	"context"
	"fmt"

	"cmip6cat/internal/infra/blob/fs"
	memorystore "cmip6cat/internal/infra/blob/memory"
	infraS3 "cmip6cat/internal/infra/blob/s3"
	"cmip6cat/internal/platform/envutil"
)

// S3Config configures the S3 driver.
type S3Config = infraS3.Config

// Config selects and configures a blob backend.
type Config struct {
	Driver Driver   `yaml:"driver"`
	Root   string   `yaml:"root"`
	S3     S3Config `yaml:"s3"`
}

// ConfigFromEnv overlays CMIP6CAT_BLOB_* variables onto base:
//
//	CMIP6CAT_BLOB_DRIVER: fs|s3|memory
//	CMIP6CAT_BLOB_FS_ROOT: directory root when driver=fs
//	CMIP6CAT_BLOB_S3_BUCKET, _REGION, _PREFIX, _ENDPOINT, _PATH_STYLE
//
// AWS credentials come from the default AWS chain.
func ConfigFromEnv(base Config) Config {
	cfg := base
	cfg.Driver = Driver(envutil.String("CMIP6CAT_BLOB_DRIVER", string(base.Driver)))
	cfg.Root = envutil.String("CMIP6CAT_BLOB_FS_ROOT", base.Root)
	cfg.S3.Bucket = envutil.String("CMIP6CAT_BLOB_S3_BUCKET", base.S3.Bucket)
	cfg.S3.Region = envutil.String("CMIP6CAT_BLOB_S3_REGION", base.S3.Region)
	cfg.S3.Prefix = envutil.String("CMIP6CAT_BLOB_S3_PREFIX", base.S3.Prefix)
	cfg.S3.Endpoint = envutil.String("CMIP6CAT_BLOB_S3_ENDPOINT", base.S3.Endpoint)
	cfg.S3.PathStyle = envutil.Bool("CMIP6CAT_BLOB_S3_PATH_STYLE", base.S3.PathStyle)
	return cfg
}

// Open returns the store selected by cfg. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem returns a store writing plain files under root.
func NewFilesystem(root string) (Store, error) {
	s, err := fs.New(root)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewMemory returns an in-memory store.
func NewMemory() Store { return memorystore.New() }

// NewS3 constructs an S3-backed store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	s, err := infraS3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewMockS3ForTests exposes the in-memory S3 fake for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
