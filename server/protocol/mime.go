package protocol

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const defaultMime = "text/html"

// suffix -> content type table. built once at startup and only read after,
// so it needs no lock
type MimeTypes struct {
	types map[string]string
	def   string
}

// table with the built-in types
func NewMimeTypes() *MimeTypes {
	return &MimeTypes{
		types: map[string]string{
			".html": "text/html",
			".avi":  "video/x-msvideo",
			".bmp":  "image/bmp",
			".c":    "text/plain",
			".doc":  "application/msword",
			".gif":  "image/gif",
			".gz":   "application/x-gzip",
			".htm":  "text/html",
			".ico":  "application/x-ico",
			".jpg":  "image/jpeg",
			".png":  "image/png",
			".txt":  "text/plain",
			".mp3":  "audio/mp3",
		},
		def: defaultMime,
	}
}

// content type for suffix like ".png", default for unknown or empty one
func (m *MimeTypes) Lookup(suffix string) string {
	if t, ok := m.types[strings.ToLower(suffix)]; ok {
		return t
	}
	return m.def
}

func (m *MimeTypes) Add(suffix, ctype string) {
	if !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	m.types[strings.ToLower(suffix)] = ctype
}

// read mime.types formatted table: "type ext ext ...", '#' comments.
// entries override built-in ones
func (m *MimeTypes) Load(r io.Reader) error {
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		if len(fields) == 1 {
			return fmt.Errorf("mime table line %d: no extensions for %q", line, fields[0])
		}
		for _, ext := range fields[1:] {
			m.Add(ext, fields[0])
		}
	}
	return sc.Err()
}

func (m *MimeTypes) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("mime table: %w", err)
	}
	defer f.Close()
	return m.Load(f)
}
