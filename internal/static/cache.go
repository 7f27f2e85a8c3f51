package static

import (
	"path"
	"strings"
)

type cacheClass int

const (
	cacheHTML cacheClass = iota
	cacheAsset
	cacheOther
)

var extClass = map[string]cacheClass{
	".html":  cacheHTML,
	".css":   cacheAsset,
	".js":    cacheAsset,
	".mjs":   cacheAsset,
	".map":   cacheAsset,
	".png":   cacheAsset,
	".jpg":   cacheAsset,
	".jpeg":  cacheAsset,
	".webp":  cacheAsset,
	".gif":   cacheAsset,
	".svg":   cacheAsset,
	".ico":   cacheAsset,
	".woff":  cacheAsset,
	".woff2": cacheAsset,
	".ttf":   cacheAsset,
	".eot":   cacheAsset,
}

func cacheControlForFile(name string, o *Options) string {
	ext := strings.ToLower(path.Ext(name))
	class, ok := extClass[ext]
	if !ok {
		// extensionless files are most likely pages
		class = cacheOther
		if ext == "" {
			class = cacheHTML
		}
	}
	switch class {
	case cacheHTML:
		return o.HTMLCacheControl
	case cacheAsset:
		return o.AssetCacheControl
	default:
		return o.OtherCacheControl
	}
}
