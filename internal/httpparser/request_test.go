package httpparser

import (
	"testing"

	"github.com/yourusername/ember/internal/buffer"
)

func parseAll(t *testing.T, raw string) *Request {
	t.Helper()
	buf := buffer.New(256)
	buf.AppendString(raw)
	r := &Request{}
	r.Init()
	done, err := r.Parse(buf)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if !done {
		t.Fatalf("Parse did not complete on a full request: %q", raw)
	}
	return r
}

func TestParseSimpleGet(t *testing.T) {
	r := parseAll(t, "GET / HTTP/1.1\r\nHost: h\r\nConnection: keep-alive\r\n\r\n")
	if r.Failed() {
		t.Fatal("unexpected parse failure")
	}
	if r.Method != "GET" || r.Path != "/index.html" || r.Version != "1.1" {
		t.Fatalf("unexpected parsed line: %+v", r)
	}
	if r.Headers["Host"] != "h" {
		t.Fatalf("header not parsed: %+v", r.Headers)
	}
	if !r.KeepAlive() {
		t.Fatal("expected keep-alive")
	}
}

func TestNormalizePathLandingSet(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"/", "/index.html"},
		{"/register", "/register.html"},
		{"/login", "/login.html"},
		{"/welcome", "/welcome.html"},
		{"/video", "/video.html"},
		{"/picture", "/picture.html"},
		{"/style.css", "/style.css"},
	} {
		r := parseAll(t, "GET "+tc.in+" HTTP/1.1\r\n\r\n")
		if r.Path != tc.want {
			t.Errorf("normalize(%q) = %q, want %q", tc.in, r.Path, tc.want)
		}
	}
}

func TestParseMalformedRequestLineFails(t *testing.T) {
	buf := buffer.New(64)
	buf.AppendString("BOGUS\r\n\r\n")
	r := &Request{}
	r.Init()
	done, err := r.Parse(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done || !r.Failed() {
		t.Fatalf("expected a completed, failed parse, got done=%v failed=%v", done, r.Failed())
	}
}

func TestParsePartialRequestLeavesBufferIntact(t *testing.T) {
	buf := buffer.New(64)
	buf.AppendString("GET / HTTP/1.1\r\nHost: h\r\nAccept: text/html")
	r := &Request{}
	r.Init()
	done, err := r.Parse(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Fatal("parse should not complete without the full headers section")
	}
	if r.Headers["Host"] != "h" {
		t.Fatalf("parsed header lost across partial parse: %+v", r.Headers)
	}

	buf.AppendString("\r\n\r\n")
	done, err = r.Parse(buf)
	if err != nil || !done {
		t.Fatalf("continuation parse failed: done=%v err=%v", done, err)
	}
}

func TestParsePostFormUrlencoded(t *testing.T) {
	raw := "POST /login HTTP/1.1\r\n" +
		"Host: h\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: 30\r\n" +
		"\r\n" +
		"username=bob&password=hi+there"
	r := parseAll(t, raw)
	if r.Form["username"] != "bob" {
		t.Fatalf("form username = %q", r.Form["username"])
	}
	if r.Form["password"] != "hi there" {
		t.Fatalf("form password = %q, want 'hi there'", r.Form["password"])
	}
}

func TestParsePostFormPercentEncoding(t *testing.T) {
	raw := "POST /login HTTP/1.1\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"\r\n" +
		"q=a%26b%3Dc"
	r := parseAll(t, raw)
	if r.Form["q"] != "a&b=c" {
		t.Fatalf("form q = %q, want a&b=c", r.Form["q"])
	}
}

func TestFormRoundTrip(t *testing.T) {
	want := map[string]string{"username": "bob smith", "password": "p@ss&w=ord"}
	encoded := EncodeForm(want)
	raw := "POST /login HTTP/1.1\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"\r\n" + encoded
	r := parseAll(t, raw)
	for k, v := range want {
		if r.Form[k] != v {
			t.Errorf("round trip mismatch for %q: got %q want %q", k, r.Form[k], v)
		}
	}
}

func TestParseIdempotenceAcrossInit(t *testing.T) {
	raw := "GET /login HTTP/1.1\r\nHost: h\r\n\r\n"

	buf1 := buffer.New(64)
	buf1.AppendString(raw)
	r1 := &Request{}
	r1.Init()
	r1.Parse(buf1)

	buf2 := buffer.New(64)
	buf2.AppendString(raw)
	r2 := &Request{}
	r2.Init()
	r2.Parse(buf2)

	if r1.Method != r2.Method || r1.Path != r2.Path || r1.Version != r2.Version {
		t.Fatalf("non-idempotent parse: %+v vs %+v", r1, r2)
	}
	if len(r1.Headers) != len(r2.Headers) || r1.Headers["Host"] != r2.Headers["Host"] {
		t.Fatalf("header maps differ across reuse: %+v vs %+v", r1.Headers, r2.Headers)
	}
}

func TestKeepAliveHTTP10NeverDefaultsOn(t *testing.T) {
	r := parseAll(t, "GET / HTTP/1.0\r\nHost: h\r\n\r\n")
	if r.KeepAlive() {
		t.Fatal("HTTP/1.0 without an explicit keep-alive header must not keep alive")
	}
}
