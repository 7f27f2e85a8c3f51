package assets

import (
	"context"
	"io/fs"
	"os"

	"github.com/keithlinneman/tours-web/internal/log"
	"github.com/keithlinneman/tours-web/internal/webassets"
)

const (
	SourceDir      = "dir"
	SourceEmbedded = "embedded"
)

// Public returns dir as a filesystem when it exists, otherwise the embedded
// default assets. The second result names the source for logs and metrics.
func Public(ctx context.Context, dir string, logger log.Logger) (fs.FS, string) {
	if logger == nil {
		logger = log.Nop()
	}
	if dir != "" {
		fi, err := os.Stat(dir)
		if err == nil && fi.IsDir() {
			logger.Info(ctx, "serving public assets from directory", "dir", dir)
			return os.DirFS(dir), SourceDir
		}
		if err != nil && !os.IsNotExist(err) {
			logger.Warn(ctx, "public directory unusable, using embedded assets", "dir", dir, "error", err)
		}
	}
	logger.Info(ctx, "serving embedded public assets")
	return webassets.PublicFS(), SourceEmbedded
}
