package static

import (
	"io/fs"
	"path"
	"strings"
)

// resolvePath maps a URL path to a file in fsys.
//
// A non-empty redirect means the path names a directory with an index and
// should be requested with a trailing slash. ok is false for anything that
// should fall through to the next stage: unsafe or ambiguous paths, dotfiles,
// and paths with no matching file.
func resolvePath(urlPath string, fsys fs.FS, index string) (file, redirect string, ok bool) {
	p := urlPath
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if strings.ContainsAny(p, "\x00\\") || strings.Contains(p, "..") || hasDotfile(p) {
		return "", "", false
	}

	dir := strings.HasSuffix(p, "/")
	clean := strings.TrimPrefix(path.Clean(p), "/")

	if dir || clean == "" {
		name := path.Join(clean, index)
		if existsFile(fsys, name) {
			return name, "", true
		}
		return "", "", false
	}
	if existsFile(fsys, clean) {
		return clean, "", true
	}
	if existsFile(fsys, path.Join(clean, index)) {
		return "", "/" + clean + "/", true
	}
	return "", "", false
}

// hasDotfile reports whether any segment starts with a dot. That covers
// hidden files (".git", ".env") as well as "." and ".." segments.
func hasDotfile(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func existsFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	return err == nil && !info.IsDir()
}
