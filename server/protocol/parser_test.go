package protocol

import (
	"errors"
	"strings"
	"testing"

	"github.com/s00inx/webserver/server/engine"
)

func newSession(raw string) *engine.Session {
	s := engine.NewSession(-1, "test")
	s.In = append(s.In, raw...)
	return s
}

func TestParseRequestLine(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Result
		err     error
		method  engine.Method
		path    string
		version engine.Version
	}{
		{"get file", "GET /index.html HTTP/1.1\r\n", Done, nil, engine.MethodGet, "/index.html", engine.HTTP11},
		{"root is index", "GET / HTTP/1.0\r\n", Done, nil, engine.MethodGet, "/index.html", engine.HTTP10},
		{"query stripped", "GET /a.png?x=1&y=2 HTTP/1.1\r\n", Done, nil, engine.MethodGet, "/a.png", engine.HTTP11},
		{"root with query", "GET /?a HTTP/1.1\r\n", Done, nil, engine.MethodGet, "/index.html", engine.HTTP11},
		{"post", "POST /form HTTP/1.1\r\n", Done, nil, engine.MethodPost, "/form", engine.HTTP11},
		{"incomplete", "GET / HTTP/1.1", Again, nil, engine.MethodNone, "", engine.VersionNone},
		{"bad method", "PUT / HTTP/1.1\r\n", Failed, errMethod, 0, "", 0},
		{"lowercase method", "get / HTTP/1.1\r\n", Failed, errMethod, 0, "", 0},
		{"bad version", "GET / HTTP/2.0\r\n", Failed, errVersion, 0, "", 0},
		{"no target", "GET HTTP/1.1\r\n", Failed, errInvalid, 0, "", 0},
		{"relative target", "GET index.html HTTP/1.1\r\n", Failed, errInvalid, 0, "", 0},
		{"garbage", "hello\r\n", Failed, errInvalid, 0, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(tt.raw)
			res, err := ParseRequestLine(s)

			if res != tt.want {
				t.Fatalf("got %v, want %v (err %v)", res, tt.want, err)
			}
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Errorf("expected error %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res != Done {
				return
			}
			if s.Req.Method != tt.method || s.Req.Path != tt.path || s.Req.Version != tt.version {
				t.Errorf("got %v %q %v", s.Req.Method, s.Req.Path, s.Req.Version)
			}
			if len(s.In) != 0 {
				t.Errorf("line not consumed: %q", s.In)
			}
		})
	}
}

func TestParseRequestLineSplitCRLF(t *testing.T) {
	s := newSession("GET /a.txt HTTP/1.1\r")
	if res, _ := ParseRequestLine(s); res != Again {
		t.Fatalf("got %v before LF", res)
	}

	s.In = append(s.In, "\nHost: x\r\n"...)
	res, err := ParseRequestLine(s)
	if res != Done || err != nil {
		t.Fatalf("got %v, %v", res, err)
	}
	if s.Req.Path != "/a.txt" || string(s.In) != "Host: x\r\n" {
		t.Errorf("path %q, rest %q", s.Req.Path, s.In)
	}
}

func TestParseHeaders(t *testing.T) {
	long := strings.Repeat("v", maxHeaderValue)

	tests := []struct {
		name    string
		raw     string
		want    Result
		err     error
		headers map[string]string
		rest    string
	}{
		{"two headers", "Host: x\r\nAccept: */*\r\n\r\n", Done, nil,
			map[string]string{"Host": "x", "Accept": "*/*"}, ""},
		{"no headers", "\r\n", Done, nil, map[string]string{}, ""},
		{"body left", "Content-length: 4\r\n\r\nBODY", Done, nil,
			map[string]string{"Content-length": "4"}, "BODY"},
		{"last wins", "A: 1\r\nA: 2\r\n\r\n", Done, nil, map[string]string{"A": "2"}, ""},
		{"value with spaces", "User-Agent: curl 8.0 (x)\r\n\r\n", Done, nil,
			map[string]string{"User-Agent": "curl 8.0 (x)"}, ""},
		{"value at limit", "X: " + long + "\r\n\r\n", Done, nil, map[string]string{"X": long}, ""},
		{"incomplete", "Host: x\r\n", Again, nil, nil, ""},
		{"incomplete value", "Host: lo", Again, nil, nil, ""},
		{"value too long", "X: " + long + "v\r\n\r\n", Failed, errHeaderTooLong, nil, ""},
		{"no space", "Host:x\r\n\r\n", Failed, errHeader, nil, ""},
		{"two spaces", "Host:  x\r\n\r\n", Failed, errHeader, nil, ""},
		{"empty value", "Host: \r\n\r\n", Failed, errHeader, nil, ""},
		{"empty key", ": x\r\n\r\n", Failed, errHeader, nil, ""},
		{"no colon", "Host x\r\n\r\n", Failed, errHeader, nil, ""},
		{"bare lf in value", "Host: x\nA: b\r\n\r\n", Failed, errHeader, nil, ""},
		{"bare lf line", "Host: x\r\n\n", Failed, errHeader, nil, ""},
		{"cr without lf", "Host: x\rA: b\r\n\r\n", Failed, errHeader, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(tt.raw)
			res, err := ParseHeaders(s)

			if res != tt.want {
				t.Fatalf("got %v, want %v (err %v)", res, tt.want, err)
			}
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Errorf("expected error %v, got %v", tt.err, err)
				}
				return
			}
			if res != Done {
				return
			}
			if len(s.Req.Headers) != len(tt.headers) {
				t.Errorf("got %d headers, want %d: %v", len(s.Req.Headers), len(tt.headers), s.Req.Headers)
			}
			for k, v := range tt.headers {
				if s.Req.Headers[k] != v {
					t.Errorf("header %q = %q, want %q", k, s.Req.Headers[k], v)
				}
			}
			if string(s.In) != tt.rest {
				t.Errorf("rest %q, want %q", s.In, tt.rest)
			}
		})
	}
}

// same block delivered byte by byte gives the same headers
func TestParseHeadersResume(t *testing.T) {
	raw := "Host: localhost:8888\r\nConnection: keep-alive\r\nContent-length: 3\r\n\r\nabc"

	s := newSession("")
	var res Result
	var err error
	for i := range len(raw) {
		s.In = append(s.In, raw[i])
		res, err = ParseHeaders(s)
		if res != Again {
			break
		}
	}
	if res != Done || err != nil {
		t.Fatalf("got %v, %v", res, err)
	}

	want := map[string]string{
		"Host":           "localhost:8888",
		"Connection":     "keep-alive",
		"Content-length": "3",
	}
	for k, v := range want {
		if s.Req.Headers[k] != v {
			t.Errorf("header %q = %q, want %q", k, s.Req.Headers[k], v)
		}
	}
	// done right at the blank line, body not delivered yet
	if len(s.In) != 0 {
		t.Errorf("unexpected rest %q", s.In)
	}
}

func TestContentLength(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    int
		err     error
	}{
		{"exact key", map[string]string{"Content-length": "12"}, 12, nil},
		{"other case", map[string]string{"Content-Length": "7"}, 7, nil},
		{"zero", map[string]string{"Content-length": "0"}, 0, nil},
		{"missing", map[string]string{"Host": "x"}, 0, errNoContentLength},
		{"not a number", map[string]string{"Content-length": "abc"}, 0, errContentLength},
		{"negative", map[string]string{"Content-length": "-1"}, 0, errContentLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ContentLength(&engine.Request{Headers: tt.headers})
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected error %v, got %v", tt.err, err)
			}
			if n != tt.want {
				t.Errorf("got %d, want %d", n, tt.want)
			}
		})
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/index.html", "index.html"},
		{"/", "index.html"},
		{"/img/logo.png", "img/logo.png"},
		{"/a/../b.txt", "b.txt"},
		{"/../../etc/passwd", "etc/passwd"},
		{"//x.txt", "x.txt"},
	}
	for _, tt := range tests {
		name, ok := fileName(tt.path)
		if !ok || name != tt.want {
			t.Errorf("fileName(%q) = %q, %v; want %q", tt.path, name, ok, tt.want)
		}
	}
}

func BenchmarkParseRequest(b *testing.B) {
	raw := []byte("GET /very/long/path/for/testing/purposes HTTP/1.1\r\n" +
		"Host: localhost:8080\r\n" +
		"User-Agent: webserver-benchmark\r\n" +
		"Accept: */*\r\n" +
		"Connection: keep-alive\r\n" +
		"\r\n")
	s := engine.NewSession(-1, "bench")

	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		s.Reset()
		s.In = append(s.In, raw...)
		if res, err := ParseRequestLine(s); res != Done {
			b.Fatal(err)
		}
		if res, err := ParseHeaders(s); res != Done {
			b.Fatal(err)
		}
	}
}
