// Package mimetype is the static suffix-to-content-type lookup the
// response builder consults, grounded on httpresponse.cpp's SUFFIX_TYPE_
// table.
package mimetype

import "strings"

var suffixType = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/nsword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css",
	".js":    "text/javascript",
}

// defaultType is served for any suffix absent from the table, matching
// the original's fallback.
const defaultType = "text/plain"

// ForPath returns the content type for the suffix of path, matched
// case-insensitively, or defaultType if the suffix is unknown.
func ForPath(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx < 0 {
		return defaultType
	}
	suffix := strings.ToLower(path[idx:])
	if t, ok := suffixType[suffix]; ok {
		return t
	}
	return defaultType
}
