// Package httpresponse builds HTTP/1.1 responses for the static file
// server: a status line and headers written into the connection's byte
// buffer, paired with a memory-mapped file body, grounded on
// httpresponse.h/.cpp's make_response/add_state_line/add_header/
// add_content sequence.
package httpresponse

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/yourusername/ember/internal/buffer"
	"github.com/yourusername/ember/internal/mimetype"
)

// codeStatus maps a status code to its canonical reason phrase.
var codeStatus = map[int]string{
	200: "OK",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
}

// codePath maps an error status to the built-in page served in its
// place, matching the original's CODE_PATH_ table.
var codePath = map[int]string{
	400: "/400.html",
	403: "/403.html",
	404: "/404.html",
}

// sentinel is the "not yet decided" initial code, mirroring the
// original's code_ == -1 convention.
const sentinel = -1

// Response holds the state needed to emit one HTTP response: the
// resolved status code, the document root and request path, and (once
// mapped) the response body.
type Response struct {
	Code      int
	KeepAlive bool
	Path      string
	SrcDir    string
	mmFile    []byte
}

// Init resets r for a new request, unmapping any previously mapped body
// first so repeated use on a pooled Connection never leaks a mapping.
func (r *Response) Init(srcDir, path string, keepAlive bool, code int) {
	r.UnmapFile()
	r.SrcDir = srcDir
	r.Path = path
	r.KeepAlive = keepAlive
	r.Code = code
}

// File returns the mapped body, or nil if none is mapped.
func (r *Response) File() []byte { return r.mmFile }

// FileLen returns the length of the mapped body.
func (r *Response) FileLen() int { return len(r.mmFile) }

// UnmapFile releases any active mapping. Idempotent.
func (r *Response) UnmapFile() {
	if r.mmFile != nil {
		unix.Munmap(r.mmFile)
		r.mmFile = nil
	}
}

// MakeResponse stats the requested file, resolves the final status
// code and path (substituting the canonical error page when needed),
// and appends the status line, headers, and a memory-mapped or inline
// error body into buf. A path that resolves outside SrcDir is rejected
// as 403 before stat ever runs, since the request path is attacker-
// controlled and a bare string join would let "../" escape the
// document root.
func (r *Response) MakeResponse(buf *buffer.Buffer) error {
	fullPath, contained := resolveInRoot(r.SrcDir, r.Path)

	var info os.FileInfo
	var err error
	_, presetError := codePath[r.Code]
	switch {
	case presetError:
		// an error code decided before the response is built (400 for a
		// malformed request line) is kept; its page is substituted below
	case !contained:
		r.Code = 403
	default:
		info, err = os.Stat(fullPath)
		switch {
		case err != nil || info.IsDir():
			r.Code = 404
		case !worldReadable(info):
			r.Code = 403
		case r.Code == sentinel:
			r.Code = 200
		}
	}

	if errPath, ok := codePath[r.Code]; ok {
		r.Path = errPath
		fullPath, _ = resolveInRoot(r.SrcDir, r.Path)
		info, err = os.Stat(fullPath)
	}

	r.addStateLine(buf)
	r.addHeader(buf)

	if err != nil || info == nil || info.IsDir() {
		r.errorContent(buf, "the requested file was not found on this server")
		return nil
	}
	if mapErr := r.addContent(buf, fullPath, info.Size()); mapErr != nil {
		r.errorContent(buf, "the requested file could not be opened")
	}
	return nil
}

// resolveInRoot joins root and path the way filepath.Join does --
// lexically cleaning ".." segments -- and reports whether the result
// still falls under root. path is always attacker-controlled input
// taken from the request line, so this check runs before any stat.
func resolveInRoot(root, path string) (string, bool) {
	root = filepath.Clean(root)
	full := filepath.Join(root, path)
	if full == root {
		return full, true
	}
	if strings.HasPrefix(full, root+string(filepath.Separator)) {
		return full, true
	}
	return full, false
}

func worldReadable(info os.FileInfo) bool {
	return info.Mode().Perm()&0004 != 0
}

func (r *Response) addStateLine(buf *buffer.Buffer) {
	status, ok := codeStatus[r.Code]
	if !ok {
		r.Code = 400
		status = codeStatus[400]
	}
	buf.AppendString(fmt.Sprintf("HTTP/1.1 %d %s\r\n", r.Code, status))
}

func (r *Response) addHeader(buf *buffer.Buffer) {
	if r.KeepAlive {
		buf.AppendString("Connection: keep-alive\r\n")
		buf.AppendString("keep-alive: max=6, timeout=120\r\n")
	} else {
		buf.AppendString("Connection: close\r\n")
	}
	buf.AppendString(fmt.Sprintf("Content-type: %s\r\n", mimetype.ForPath(r.Path)))
}

// addContent opens and mmaps the resolved file PRIVATE+read-only,
// appends Content-length plus the blank line that ends the header
// block, and stores the mapping for the caller's writev slice.
func (r *Response) addContent(buf *buffer.Buffer, fullPath string, size int64) error {
	f, err := os.OpenFile(fullPath, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if size == 0 {
		r.mmFile = nil
		buf.AppendString("Content-length: 0\r\n\r\n")
		return nil
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return err
	}
	buf.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", size))
	r.mmFile = mapped
	return nil
}

// errorContent appends an inline HTML error page, used when the
// resolved file (the requested file or its error page) cannot be
// found, opened, or mapped.
func (r *Response) errorContent(buf *buffer.Buffer, message string) {
	status, ok := codeStatus[r.Code]
	if !ok {
		status = "Error"
	}
	body := fmt.Sprintf(
		"<html><title>Error</title><body bgcolor=\"ffffff\">%d : %s\n<p>%s</p></body></html>",
		r.Code, status, message,
	)
	buf.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", len(body)))
	buf.AppendString(body)
}
