// Package acquire turns an uploaded file or a remote URL into a decoded RGB
// image stored under the upload directory.
package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultUserAgent is sent on remote fetches; some image hosts refuse
	// requests without a browser user agent.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	DefaultTimeout          = 15 * time.Second
	DefaultMaxDownloadBytes = 20 << 20

	// DefaultMaxImagePixels matches Pillow's MAX_IMAGE_PIXELS.
	DefaultMaxImagePixels = 89_478_485

	jpegQuality = 75
)

// StoredImage is an acquired image. The file at Path outlives the request;
// Image is only valid for the request.
type StoredImage struct {
	Filename string
	Path     string
	Image    image.Image
}

// Options configures an Acquirer. Zero values select the defaults.
type Options struct {
	Timeout          time.Duration
	MaxDownloadBytes int64
	MaxImagePixels   int64
	UserAgent        string
	Client           *http.Client
}

// Acquirer resolves a Source into a StoredImage.
type Acquirer struct {
	dir       string
	client    *http.Client
	userAgent string
	maxBytes  int64
	maxPixels int64
	logger    *zap.Logger
}

// NewAcquirer creates the upload directory if needed and returns an Acquirer
// writing into it.
func NewAcquirer(dir string, opts Options, logger *zap.Logger) (*Acquirer, error) {
	if err := EnsureDir(dir); err != nil {
		return nil, err
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	maxBytes := opts.MaxDownloadBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDownloadBytes
	}
	maxPixels := opts.MaxImagePixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxImagePixels
	}

	return &Acquirer{
		dir:       dir,
		client:    client,
		userAgent: userAgent,
		maxBytes:  maxBytes,
		maxPixels: maxPixels,
		logger:    logger.Named("acquirer"),
	}, nil
}

// EnsureDir creates dir and its parents. Safe to call repeatedly.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create upload directory: %w", err)
	}
	return nil
}

// Dir returns the upload directory.
func (a *Acquirer) Dir() string {
	return a.dir
}

// Acquire makes a single attempt to fetch, decode and store the image. It
// writes exactly one file on success. Failures are *AcquisitionError values,
// except for an invalid Source, which wraps ErrInvalidRequest.
func (a *Acquirer) Acquire(ctx context.Context, src Source) (*StoredImage, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if src.Upload != nil {
		return a.fromUpload(src.Upload)
	}
	return a.fromURL(ctx, strings.TrimSpace(src.RemoteURL.URL))
}

func (a *Acquirer) fromUpload(up *Upload) (*StoredImage, error) {
	img, format, err := decodeRGB(up.Data, a.maxPixels)
	if err != nil {
		return nil, newError(InvalidImageData, "the uploaded file is not a valid image", err)
	}

	name := SanitizeFilename(up.Filename)
	if name == "" {
		name = fmt.Sprintf("upload_%s.%s", uuid.NewString(), format)
	}

	stored, err := a.writeUnique(name, func(w io.Writer) error {
		_, err := w.Write(up.Data)
		return err
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("stored uploaded image",
		zap.String("filename", stored),
		zap.String("format", format),
		zap.Int("bytes", len(up.Data)),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	return &StoredImage{Filename: stored, Path: filepath.Join(a.dir, stored), Image: img}, nil
}

func (a *Acquirer) fromURL(ctx context.Context, rawURL string) (*StoredImage, error) {
	body, err := a.download(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	img, format, err := decodeRGB(body, a.maxPixels)
	if err != nil {
		return nil, newError(InvalidImageData, "the downloaded file is not a valid image", err)
	}

	// Always re-encoded, so the stored file never carries the remote bytes.
	name := fmt.Sprintf("url_image_%s.jpg", uuid.NewString())
	stored, err := a.writeUnique(name, func(w io.Writer) error {
		return jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("stored remote image",
		zap.String("filename", stored),
		zap.String("source_format", format),
		zap.Int("bytes", len(body)),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	return &StoredImage{Filename: stored, Path: filepath.Join(a.dir, stored), Image: img}, nil
}

func (a *Acquirer) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, newError(NetworkFailure, "could not build request", err)
	}
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, newError(NetworkFailure, "error downloading image from URL", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newError(NetworkFailure, fmt.Sprintf("remote server returned %s", resp.Status), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBytes+1))
	if err != nil {
		return nil, newError(NetworkFailure, "error reading image from URL", err)
	}
	if int64(len(body)) > a.maxBytes {
		return nil, newError(NetworkFailure, fmt.Sprintf("remote image exceeds %d bytes", a.maxBytes), nil)
	}
	return body, nil
}

// writeUnique creates name exclusively. If it is taken, a short random
// suffix is added before the extension; existing files are never replaced.
func (a *Acquirer) writeUnique(name string, write func(io.Writer) error) (string, error) {
	f, err := os.OpenFile(filepath.Join(a.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		ext := filepath.Ext(name)
		name = fmt.Sprintf("%s_%s%s", strings.TrimSuffix(name, ext), uuid.NewString()[:8], ext)
		f, err = os.OpenFile(filepath.Join(a.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return "", newError(StorageFailure, "could not create image file", err)
	}

	if err := write(f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", newError(StorageFailure, "could not write image file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", newError(StorageFailure, "could not write image file", err)
	}
	return name, nil
}

// decodeRGB decodes data and drops any alpha channel. Alpha is discarded,
// not composited over a background. Images larger than maxPixels are
// rejected from their header, before any pixel data is decoded.
func decodeRGB(data []byte, maxPixels int64) (*image.RGBA, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
		return nil, "", fmt.Errorf("image is %dx%d, %d pixels exceeds limit of %d", cfg.Width, cfg.Height, pixels, maxPixels)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}

	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if n, ok := src.(*image.NRGBA); ok {
		// Straight alpha: copy the color bytes so transparent pixels keep them.
		for y := 0; y < b.Dy(); y++ {
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+4*b.Dx()], n.Pix[n.PixOffset(b.Min.X, b.Min.Y+y):])
		}
	} else {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	}
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst, format, nil
}
