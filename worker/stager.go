package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richinsley/comfyrunner/client"
)

// Stager makes decoded request media available to ComfyUI and returns the name
// a loader node should reference.
type Stager interface {
	StageImage(ctx context.Context, data []byte) (string, error)
	StageVideo(ctx context.Context, data []byte) (string, error)
}

// DecodePayload decodes a base64 media payload.  A data URL prefix such as
// "data:image/png;base64," is stripped first.
func DecodePayload(field, payload string) ([]byte, error) {
	s := strings.TrimSpace(payload)
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, &DecodeError{Field: field, Err: fmt.Errorf("malformed data URL")}
		}
		s = s[comma+1:]
	}
	if s == "" {
		return nil, &DecodeError{Field: field, Err: fmt.Errorf("empty payload")}
	}

	var lastErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, &DecodeError{Field: field, Err: lastErr}
}

// DefaultMaxPixels caps the area of decoded or generated images (4096x4096)
const DefaultMaxPixels int64 = 4096 * 4096

// checkImageSize rejects sizes that are not positive or whose area exceeds maxPixels.
// A non-positive maxPixels means DefaultMaxPixels.
func checkImageSize(width, height int, maxPixels int64) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", width, height)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if int64(width) > maxPixels/int64(height) {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, width, height, maxPixels)
	}
	return nil
}

// normalizeImage checks that data is an image no larger than maxPixels and returns it as PNG bytes.
// The declared size is checked before any pixels are decoded.
func normalizeImage(data []byte, maxPixels int64) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Field: "image", Err: err}
	}
	if err := checkImageSize(cfg.Width, cfg.Height, maxPixels); err != nil {
		return nil, &DecodeError{Field: "image", Err: err}
	}
	if format == "png" {
		return data, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Field: "image", Err: err}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// stagedName builds a collision-free file name for concurrent requests
func stagedName(kind string, now time.Time, ext string) string {
	return fmt.Sprintf("input_%s_%d_%s%s", kind, now.Unix(), uuid.NewString()[:8], ext)
}

// FilesystemStager writes inputs straight into ComfyUI's input directory
type FilesystemStager struct {
	Dir       string
	MaxPixels int64
	Now       func() time.Time
}

func NewFilesystemStager(dir string) *FilesystemStager {
	return &FilesystemStager{Dir: dir, MaxPixels: DefaultMaxPixels, Now: time.Now}
}

func (s *FilesystemStager) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *FilesystemStager) StageImage(ctx context.Context, data []byte) (string, error) {
	pngData, err := normalizeImage(data, s.MaxPixels)
	if err != nil {
		return "", err
	}
	return s.write(stagedName("image", s.now(), ".png"), pngData)
}

func (s *FilesystemStager) StageVideo(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", &DecodeError{Field: "video", Err: fmt.Errorf("empty payload")}
	}
	return s.write(stagedName("video", s.now(), ".mp4"), data)
}

func (s *FilesystemStager) write(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create input directory: %w", err)
	}
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("stage %s: %w", name, err)
	}
	slog.Debug("Staged input", "path", path, "bytes", len(data))
	return name, nil
}

// Uploader is the part of the ComfyUI client UploadStager needs
type Uploader interface {
	UploadFileFromReader(ctx context.Context, r io.Reader, filename string, overwrite bool, filetype client.ImageType, subfolder string) (string, error)
}

// UploadStager sends inputs through ComfyUI's /upload/image endpoint, for backends
// whose input directory is not on this machine.
type UploadStager struct {
	Client    Uploader
	Subfolder string
	MaxPixels int64
	Now       func() time.Time
}

func NewUploadStager(c Uploader, subfolder string) *UploadStager {
	return &UploadStager{Client: c, Subfolder: subfolder, MaxPixels: DefaultMaxPixels, Now: time.Now}
}

func (s *UploadStager) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *UploadStager) StageImage(ctx context.Context, data []byte) (string, error) {
	pngData, err := normalizeImage(data, s.MaxPixels)
	if err != nil {
		return "", err
	}
	return s.Client.UploadFileFromReader(ctx, bytes.NewReader(pngData), stagedName("image", s.now(), ".png"), true, client.InputImageType, s.Subfolder)
}

func (s *UploadStager) StageVideo(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", &DecodeError{Field: "video", Err: fmt.Errorf("empty payload")}
	}
	return s.Client.UploadFileFromReader(ctx, bytes.NewReader(data), stagedName("video", s.now(), ".mp4"), true, client.InputImageType, s.Subfolder)
}

// BlankImage returns a black width x height PNG, used as the start frame when a
// video preset runs without an input image.  Sizes above maxPixels return ErrImageTooLarge.
func BlankImage(width, height int, maxPixels int64) ([]byte, error) {
	if err := checkImageSize(width, height, maxPixels); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
