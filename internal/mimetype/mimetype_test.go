package mimetype

import "testing"

func TestForPathKnownSuffixes(t *testing.T) {
	cases := map[string]string{
		"/index.html":   "text/html",
		"/app.JS":       "text/javascript",
		"/photo.JPEG":   "image/jpeg",
		"/archive.tar":  "application/x-tar",
		"/noext":        defaultType,
		"/weird.potato": defaultType,
	}
	for path, want := range cases {
		if got := ForPath(path); got != want {
			t.Errorf("ForPath(%q) = %q, want %q", path, got, want)
		}
	}
}
