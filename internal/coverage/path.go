package coverage

import (
	"path/filepath"
	"runtime"
	"strings"
)

// caseInsensitiveFS reports whether the host's default filesystem folds case.
var caseInsensitiveFS = runtime.GOOS == "windows" || runtime.GOOS == "darwin"

// ResolvePath turns an SF reference into a canonical path usable as a map
// key. Relative references are joined to baseDir. Separators follow the
// host convention and case is folded where the filesystem ignores it.
func ResolvePath(baseDir, ref string) string {
	return resolvePath(baseDir, ref, caseInsensitiveFS)
}

func resolvePath(baseDir, ref string, foldCase bool) string {
	ref = filepath.FromSlash(strings.TrimSpace(ref))

	var p string
	if filepath.IsAbs(ref) {
		p = filepath.Clean(ref)
	} else {
		p = filepath.Join(filepath.FromSlash(baseDir), ref)
	}
	if foldCase {
		p = strings.ToLower(p)
	}
	return p
}
