package acquire

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func encodePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestAcquirer(t *testing.T, opts Options) *Acquirer {
	t.Helper()
	a, err := NewAcquirer(filepath.Join(t.TempDir(), "uploads"), opts, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create acquirer: %v", err)
	}
	return a
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func requireKind(t *testing.T, err error, kind Kind) *AcquisitionError {
	t.Helper()
	var acqErr *AcquisitionError
	if !errors.As(err, &acqErr) {
		t.Fatalf("expected AcquisitionError, got %T (%v)", err, err)
	}
	if acqErr.Kind != kind {
		t.Fatalf("expected kind %s, got %s", kind, acqErr.Kind)
	}
	return acqErr
}

func TestEnsureDirIsIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	for i := 0; i < 2; i++ {
		if err := EnsureDir(dir); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
}

func TestAcquireUploadStoresSanitizedFile(t *testing.T) {
	a := newTestAcquirer(t, Options{})
	data := encodePNG(t, 8, 6, color.NRGBA{R: 200, G: 10, B: 10, A: 255})

	stored, err := a.Acquire(context.Background(), FromUpload(data, "../../etc/fundus scan.png"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Filename != "fundus_scan.png" {
		t.Fatalf("unexpected filename %q", stored.Filename)
	}
	if filepath.Dir(stored.Path) != a.Dir() {
		t.Fatalf("file stored outside upload dir: %s", stored.Path)
	}
	written, err := os.ReadFile(stored.Path)
	if err != nil {
		t.Fatalf("failed to read stored file: %v", err)
	}
	if !bytes.Equal(written, data) {
		t.Fatal("expected upload bytes to be stored verbatim")
	}
	if b := stored.Image.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
		t.Fatalf("unexpected decoded size %v", b)
	}
}

func TestAcquireUploadDropsAlpha(t *testing.T) {
	a := newTestAcquirer(t, Options{})
	data := encodePNG(t, 2, 2, color.NRGBA{R: 100, G: 150, B: 200, A: 0})

	stored, err := a.Acquire(context.Background(), FromUpload(data, "clear.png"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, g, b, alpha := stored.Image.At(0, 0).RGBA()
	if r>>8 != 100 || g>>8 != 150 || b>>8 != 200 || alpha>>8 != 255 {
		t.Fatalf("unexpected pixel %d,%d,%d,%d", r>>8, g>>8, b>>8, alpha>>8)
	}
}

func TestAcquireUploadNeverOverwrites(t *testing.T) {
	a := newTestAcquirer(t, Options{})
	first := encodePNG(t, 2, 2, color.White)
	second := encodePNG(t, 3, 3, color.Black)

	s1, err := a.Acquire(context.Background(), FromUpload(first, "eye.png"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := a.Acquire(context.Background(), FromUpload(second, "eye.png"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s1.Filename == s2.Filename {
		t.Fatalf("expected distinct filenames, got %q twice", s1.Filename)
	}
	if !strings.HasPrefix(s2.Filename, "eye_") || !strings.HasSuffix(s2.Filename, ".png") {
		t.Fatalf("unexpected collision name %q", s2.Filename)
	}
	kept, _ := os.ReadFile(s1.Path)
	if !bytes.Equal(kept, first) {
		t.Fatal("first upload was modified")
	}
}

func TestAcquireUploadUnusableNameGetsGenerated(t *testing.T) {
	a := newTestAcquirer(t, Options{})
	stored, err := a.Acquire(context.Background(), FromUpload(encodePNG(t, 2, 2, color.White), "../.."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(stored.Filename, "upload_") || !strings.HasSuffix(stored.Filename, ".png") {
		t.Fatalf("unexpected generated name %q", stored.Filename)
	}
}

func TestAcquireUploadRejectsNonImage(t *testing.T) {
	a := newTestAcquirer(t, Options{})

	_, err := a.Acquire(context.Background(), FromUpload([]byte("just some text"), "notes.txt"))
	requireKind(t, err, InvalidImageData)

	if files := listFiles(t, a.Dir()); len(files) != 0 {
		t.Fatalf("expected no files written, got %v", files)
	}
}

// pngHeader returns a PNG signature and IHDR chunk declaring w x h RGBA
// pixels with no image data behind it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8], ihdr[9] = 8, 6

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestAcquireUploadRejectsOversizedImage(t *testing.T) {
	a := newTestAcquirer(t, Options{})

	start := time.Now()
	_, err := a.Acquire(context.Background(), FromUpload(pngHeader(14000, 14000), "bomb.png"))
	requireKind(t, err, InvalidImageData)
	if !strings.Contains(err.Error(), "exceeds limit") {
		t.Fatalf("expected pixel limit error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("oversized image took %s to reject", elapsed)
	}
	if files := listFiles(t, a.Dir()); len(files) != 0 {
		t.Fatalf("expected no files written, got %v", files)
	}
}

func TestAcquireHonoursMaxImagePixels(t *testing.T) {
	a := newTestAcquirer(t, Options{MaxImagePixels: 16})

	if _, err := a.Acquire(context.Background(), FromUpload(encodePNG(t, 4, 4, color.White), "small.png")); err != nil {
		t.Fatalf("image at the limit should be accepted: %v", err)
	}
	_, err := a.Acquire(context.Background(), FromUpload(encodePNG(t, 5, 4, color.White), "large.png"))
	requireKind(t, err, InvalidImageData)
}

func TestAcquireConvertsOpaqueImages(t *testing.T) {
	a := newTestAcquirer(t, Options{})
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for i := range src.Pix {
		src.Pix[i] = 0xff
	}
	src.SetRGBA(2, 1, color.RGBA{R: 10, G: 20, B: 30, A: 0xff})
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}

	stored, err := a.Acquire(context.Background(), FromUpload(buf.Bytes(), "opaque.png"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, g, b, alpha := stored.Image.At(2, 1).RGBA()
	if r>>8 != 10 || g>>8 != 20 || b>>8 != 30 || alpha>>8 != 255 {
		t.Fatalf("unexpected pixel %d,%d,%d,%d", r>>8, g>>8, b>>8, alpha>>8)
	}
}

func TestAcquireUploadStorageFailure(t *testing.T) {
	a := newTestAcquirer(t, Options{})
	// Replace the upload directory with a regular file.
	if err := os.RemoveAll(a.Dir()); err != nil {
		t.Fatalf("failed to remove dir: %v", err)
	}
	if err := os.WriteFile(a.Dir(), []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	_, err := a.Acquire(context.Background(), FromUpload(encodePNG(t, 2, 2, color.White), "eye.png"))
	requireKind(t, err, StorageFailure)
}

func TestAcquireURLReencodesAsJPEG(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(encodePNG(t, 10, 10, color.NRGBA{G: 255, A: 255}))
	}))
	defer srv.Close()

	a := newTestAcquirer(t, Options{})
	stored, err := a.Acquire(context.Background(), FromURL(srv.URL+"/fundus.png"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUA != DefaultUserAgent {
		t.Fatalf("expected browser user agent, got %q", gotUA)
	}
	if !strings.HasPrefix(stored.Filename, "url_image_") || !strings.HasSuffix(stored.Filename, ".jpg") {
		t.Fatalf("unexpected filename %q", stored.Filename)
	}

	f, err := os.Open(stored.Path)
	if err != nil {
		t.Fatalf("failed to open stored file: %v", err)
	}
	defer f.Close()
	if _, err := jpeg.Decode(f); err != nil {
		t.Fatalf("stored file is not a jpeg: %v", err)
	}
	if files := listFiles(t, a.Dir()); len(files) != 1 {
		t.Fatalf("expected exactly one file, got %v", files)
	}
}

func TestAcquireURLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.jpg":
			http.NotFound(w, r)
		case "/page.jpg":
			_, _ = w.Write([]byte("<html>not an image</html>"))
		case "/huge.jpg":
			_, _ = w.Write(bytes.Repeat([]byte{0xff}, 2048))
		}
	}))
	defer srv.Close()

	tests := []struct {
		name string
		path string
		kind Kind
	}{
		{"not found", "/missing.jpg", NetworkFailure},
		{"html body", "/page.jpg", InvalidImageData},
		{"too large", "/huge.jpg", NetworkFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAcquirer(t, Options{MaxDownloadBytes: 1024})
			_, err := a.Acquire(context.Background(), FromURL(srv.URL+tt.path))
			requireKind(t, err, tt.kind)
			if files := listFiles(t, a.Dir()); len(files) != 0 {
				t.Fatalf("expected no files written, got %v", files)
			}
		})
	}
}

func TestAcquireURLUnreachableHost(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	a := newTestAcquirer(t, Options{Timeout: 2 * time.Second})
	start := time.Now()
	_, err = a.Acquire(context.Background(), FromURL("http://"+addr+"/eye.jpg"))
	requireKind(t, err, NetworkFailure)
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("acquisition took %s, expected to fail within the timeout", elapsed)
	}
}

func TestAcquireURLTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	a := newTestAcquirer(t, Options{Timeout: 100 * time.Millisecond})
	start := time.Now()
	_, err := a.Acquire(context.Background(), FromURL(srv.URL+"/slow.jpg"))
	requireKind(t, err, NetworkFailure)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("fetch was not bounded by the timeout: %s", elapsed)
	}
}

func TestAcquireRejectsInvalidSource(t *testing.T) {
	a := newTestAcquirer(t, Options{})
	_, err := a.Acquire(context.Background(), Source{})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
