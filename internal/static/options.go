package static

import (
	"errors"
	"fmt"
	"io/fs"
)

var ErrInvalidOptions = errors.New("static: invalid options")

type Options struct {
	// FS is the public directory root.
	FS fs.FS

	// Index is served for directory requests. Default: "index.html".
	Index string

	// Cache policies applied by file extension.
	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=86400"
	OtherCacheControl string // default: "public, max-age=3600"
}

func (o *Options) setDefaults() {
	if o.Index == "" {
		o.Index = "index.html"
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=86400"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
}

func (o *Options) validate() error {
	if o.FS == nil {
		return fmt.Errorf("%w: FS is nil", ErrInvalidOptions)
	}
	if !fs.ValidPath(o.Index) {
		return fmt.Errorf("%w: index %q is not a valid fs path", ErrInvalidOptions, o.Index)
	}
	return nil
}
