package media

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return s
}

func TestSaveAndServePath(t *testing.T) {
	s := newTestStore(t)
	body := []byte("fake png bytes")

	url, err := s.Save(context.Background(), "avatar.png", "image/png", int64(len(body)), bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(url, "/media/") || !strings.HasSuffix(url, ".png") {
		t.Fatalf("url = %q, want /media/<ulid>.png", url)
	}

	// The stored file carries the server-assigned name, not the upload name.
	fname := strings.TrimPrefix(url, "/media/")
	if strings.Contains(fname, "avatar") {
		t.Fatalf("stored name %q leaked the client filename", fname)
	}
	got, err := os.ReadFile(filepath.Join(s.Root(), fname))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("stored bytes differ from upload")
	}
}

func TestSaveRejectsUnsupportedType(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save(context.Background(), "x.svg", "image/svg+xml", 10, strings.NewReader("<svg/>"))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("svg upload = %v, want ErrUnsupportedType", err)
	}
	_, err = s.Save(context.Background(), "x.exe", "application/octet-stream", 10, strings.NewReader("MZ"))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("binary upload = %v, want ErrUnsupportedType", err)
	}
}

func TestSaveRejectsOversize(t *testing.T) {
	s := newTestStore(t)

	// Declared size over the cap is refused before reading.
	_, err := s.Save(context.Background(), "big.pdf", "application/pdf", MaxUploadBytes+1, strings.NewReader(""))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("declared-oversize = %v, want ErrTooLarge", err)
	}

	// A lying declared size is still caught on the stream.
	big := bytes.Repeat([]byte("a"), MaxUploadBytes+1)
	_, err = s.Save(context.Background(), "big.pdf", "application/pdf", 100, bytes.NewReader(big))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("stream-oversize = %v, want ErrTooLarge", err)
	}

	// Nothing left behind after a refused upload.
	entries, err := os.ReadDir(s.Root())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("refused uploads left %d files behind", len(entries))
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf("image/PNG"); got != "image" {
		t.Fatalf("KindOf(image/PNG) = %q, want image", got)
	}
	if got := KindOf("application/pdf"); got != "file" {
		t.Fatalf("KindOf(application/pdf) = %q, want file", got)
	}
	if got := KindOf("text/html"); got != "" {
		t.Fatalf("KindOf(text/html) = %q, want empty", got)
	}
}
