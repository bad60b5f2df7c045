// Package open resolves the configured cassette store. Kept out of package
// storage so the interface package never depends on concrete backends.
package open

import (
	"context"

	"github.com/retracehq/retrace/pkg/config"
	"github.com/retracehq/retrace/pkg/storage"
	"github.com/retracehq/retrace/pkg/storage/fs"
	"github.com/retracehq/retrace/pkg/storage/s3"
)

// Store opens the cassette store selected by cfg: S3 when s3_bucket is set,
// the local filesystem otherwise.
func Store(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	if cfg.S3Bucket != "" {
		return s3.New(ctx, s3.Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	}
	return fs.New(cfg.CassetteDir)
}
