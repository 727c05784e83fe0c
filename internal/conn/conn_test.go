package conn

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	return fds[0], fds[1]
}

func writeAll(t *testing.T, fd int, s string) {
	t.Helper()
	if _, err := unix.Write(fd, []byte(s)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readAll(t *testing.T, fd int) string {
	t.Helper()
	f := os.NewFile(uintptr(fd), "peer")
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(b)
}

func docRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello world"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "400.html"), []byte("bad"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return dir
}

func TestConnInitIncrementsUserCount(t *testing.T) {
	a, b := socketPair(t)
	defer unix.Close(b)

	var count int64
	c := &Conn{}
	c.Init(a, "peer", "trace-test", docRoot(t), false, &count)
	if count != 1 {
		t.Fatalf("userCount = %d, want 1", count)
	}
	if c.State != Reading {
		t.Fatalf("state = %v, want Reading", c.State)
	}
}

func TestConnReadProcessWriteRoundTrip(t *testing.T) {
	a, b := socketPair(t)
	defer unix.Close(b)

	var count int64
	c := &Conn{}
	c.Init(a, "peer", "trace-test", docRoot(t), false, &count)

	writeAll(t, b, "GET / HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n")

	if _, err := c.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !c.Process() {
		t.Fatal("Process did not complete on a full request")
	}
	if c.State != Writing {
		t.Fatalf("state = %v, want Writing", c.State)
	}
	if c.Response.Code != 200 {
		t.Fatalf("code = %d, want 200", c.Response.Code)
	}

	if _, err := c.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if c.ToWrite() != 0 {
		t.Fatalf("ToWrite() = %d, want 0 after a full write", c.ToWrite())
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if count != 0 {
		t.Fatalf("userCount = %d after close, want 0", count)
	}

	got := readAll(t, b)
	if !contains(got, "HTTP/1.1 200 OK") || !contains(got, "hello world") {
		t.Fatalf("unexpected response on the wire: %q", got)
	}
}

func TestConnCloseIsIdempotent(t *testing.T) {
	a, b := socketPair(t)
	defer unix.Close(b)

	var count int64
	c := &Conn{}
	c.Init(a, "peer", "trace-test", docRoot(t), false, &count)
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if count != 0 {
		t.Fatalf("userCount = %d, want 0", count)
	}
}

func TestConnMalformedRequestIs400(t *testing.T) {
	a, b := socketPair(t)
	defer unix.Close(b)

	var count int64
	c := &Conn{}
	c.Init(a, "peer", "trace-test", docRoot(t), false, &count)

	writeAll(t, b, "NOT A REQUEST LINE\r\n\r\n")
	if _, err := c.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !c.Process() {
		t.Fatal("Process did not complete on a malformed request")
	}
	if c.Response.Code != 400 {
		t.Fatalf("code = %d, want 400", c.Response.Code)
	}
}

func TestConnPathTraversalIs403(t *testing.T) {
	a, b := socketPair(t)
	defer unix.Close(b)

	var count int64
	c := &Conn{}
	c.Init(a, "peer", "trace-test", docRoot(t), false, &count)

	writeAll(t, b, "GET /../../../../../../etc/passwd HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n")
	if _, err := c.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !c.Process() {
		t.Fatal("Process did not complete on a full request")
	}
	if c.Response.Code != 403 {
		t.Fatalf("code = %d, want 403 for a path resolving outside the document root", c.Response.Code)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
