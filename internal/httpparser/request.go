// Package httpparser implements the line-oriented HTTP/1.1 request
// parser state machine, grounded on the original httprequest.cpp/.h:
// the REQUEST_LINE -> HEADERS -> BODY -> FINISH progression, the
// request-line and header regular expressions, the built-in
// landing-path table, and the application/x-www-form-urlencoded form
// decode rule.
package httpparser

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/yourusername/ember/internal/buffer"
)

// State is a parse stage in the REQUEST_LINE -> HEADERS -> BODY ->
// FINISH progression.
type State int

const (
	StateRequestLine State = iota
	StateHeaders
	StateBody
	StateFinish
)

// landingPaths is the built-in set of bare endpoints that gain a
// ".html" suffix, taken verbatim from the original DEFAULT_HTML_ table.
var landingPaths = map[string]bool{
	"/":         true,
	"/index":    true,
	"/register": true,
	"/login":    true,
	"/welcome":  true,
	"/video":    true,
	"/picture":  true,
}

var (
	requestLineRe = regexp.MustCompile(`^(\S+) (\S+) HTTP/(\S+)$`)
	headerLineRe  = regexp.MustCompile(`^([^:]*): ?(.*)$`)
)

// Request holds the parsed state of one HTTP request. A zero Request is
// ready to use; Init resets it for reuse across keep-alive requests.
type Request struct {
	State   State
	Method  string
	Path    string
	Version string
	Headers map[string]string
	Body    string
	Form    map[string]string

	failed bool
}

// Init resets all fields for reuse, the idempotence contract required
// so that parsing a fresh request on a keep-alive connection never
// observes data left over from the previous one.
func (r *Request) Init() {
	r.State = StateRequestLine
	r.Method = ""
	r.Path = ""
	r.Version = ""
	r.Headers = make(map[string]string)
	r.Body = ""
	r.Form = nil
	r.failed = false
}

// Failed reports whether parsing hit a malformed request line.
func (r *Request) Failed() bool { return r.failed }

// KeepAlive reports whether this request asked to keep the connection
// alive: HTTP/1.1 implies it by default unless a matching Connection
// header says otherwise, earlier versions never do.
func (r *Request) KeepAlive() bool {
	conn := strings.ToLower(r.Headers["Connection"])
	if r.Version == "1.1" {
		return conn != "close"
	}
	return conn == "keep-alive"
}

// Parse consumes complete CRLF-terminated lines from buf, advancing
// through REQUEST_LINE -> HEADERS -> BODY -> FINISH. It stops and
// returns (false, nil) if the next CRLF has not yet arrived, leaving
// the buffer untouched for continuation on the next readable event.
// It never returns a non-nil error: a malformed request line ends the
// parse with (true, nil) and Failed() reporting true, and all other
// parse outcomes are represented by state transitions, matching the
// original parser's all-paths-produce-a-response design.
func (r *Request) Parse(buf *buffer.Buffer) (done bool, err error) {
	for r.State != StateFinish {
		if r.State == StateBody {
			r.parseBody(string(buf.Peek()))
			buf.RetrieveAll()
			break
		}

		line, ok := nextLine(buf)
		if !ok {
			return false, nil
		}

		switch r.State {
		case StateRequestLine:
			if !r.parseRequestLine(line) {
				r.failed = true
				return true, nil
			}
		case StateHeaders:
			r.parseHeaderLine(line, buf)
		}
	}
	return true, nil
}

// nextLine extracts and consumes one CRLF-terminated line from the
// buffer's readable region, returning ok=false if no full line is
// available yet.
func nextLine(buf *buffer.Buffer) (string, bool) {
	readable := buf.Peek()
	idx := indexCRLF(readable)
	if idx < 0 {
		return "", false
	}
	line := string(readable[:idx])
	buf.Retrieve(idx + 2)
	return line, true
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func (r *Request) parseRequestLine(line string) bool {
	m := requestLineRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	r.Method = m[1]
	r.Path = m[2]
	r.Version = m[3]
	r.normalizePath()
	r.State = StateHeaders
	return true
}

// normalizePath maps the bare root and the built-in landing set to
// their .html file, exactly as the original parse_path did.
func (r *Request) normalizePath() {
	if r.Path == "/" {
		r.Path = "/index.html"
		return
	}
	if landingPaths[r.Path] {
		r.Path += ".html"
	}
}

// parseHeaderLine matches one header line; a blank or malformed line
// ends the headers section and transitions to BODY, matching the
// original's behavior of treating the terminating CRLF (or any
// non-matching line) as the header/body boundary.
func (r *Request) parseHeaderLine(line string, buf *buffer.Buffer) {
	m := headerLineRe.FindStringSubmatch(line)
	if m == nil || m[1] == "" {
		r.State = StateBody
		return
	}
	r.Headers[m[1]] = m[2]

	// The trailing CRLF of the headers section leaves at most 2
	// readable bytes once the last real header line is consumed (the
	// terminating blank line's own CRLF, never read as its own line).
	// Drain it and finish directly rather than looping once more just
	// to observe the blank line.
	if buf.Readable() <= 2 {
		buf.Retrieve(buf.Readable())
		r.State = StateFinish
	}
}

func (r *Request) parseBody(body string) {
	r.Body = body
	if r.Method == "POST" && strings.EqualFold(r.Headers["Content-Type"], "application/x-www-form-urlencoded") {
		r.Form = decodeForm(body)
	}
	r.State = StateFinish
}

// decodeForm implements the spec's exact rule: tokens split on '&',
// each split at the first '=', '+' decoded to space, '%HH' decoded as
// hex -- equivalent to standard form decoding, spelled out explicitly
// because the original hand-rolled it rather than calling a library.
func decodeForm(body string) map[string]string {
	form := make(map[string]string)
	if body == "" {
		return form
	}
	for _, token := range strings.Split(body, "&") {
		if token == "" {
			continue
		}
		key, value, _ := strings.Cut(token, "=")
		form[formDecode(key)] = formDecode(value)
	}
	return form
}

func formDecode(s string) string {
	s = strings.ReplaceAll(s, "+", " ")
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// EncodeForm is the inverse of decodeForm, used by round-trip tests:
// URL-decode(parse_form(encode(map))) == map.
func EncodeForm(form map[string]string) string {
	var sb strings.Builder
	first := true
	for k, v := range form {
		if !first {
			sb.WriteByte('&')
		}
		first = false
		sb.WriteString(formEncode(k))
		sb.WriteByte('=')
		sb.WriteString(formEncode(v))
	}
	return sb.String()
}

func formEncode(s string) string {
	return url.QueryEscape(s)
}

// ContentLength returns the parsed Content-Length header, or -1 if
// absent or malformed.
func (r *Request) ContentLength() int {
	v, ok := r.Headers["Content-Length"]
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return -1
	}
	return n
}
