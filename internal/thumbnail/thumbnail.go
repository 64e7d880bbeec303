// Package thumbnail derives bounded-size JPEG thumbnails from poster images,
// backed by a content-addressed on-disk cache keyed by the poster URL.
package thumbnail

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/nfnt/resize"
	"go.uber.org/zap"
)

const (
	maxWidth    = 400
	maxHeight   = 600
	jpegQuality = 80
)

// Generator turns poster bytes into thumbnails. All failures are soft: a
// nil result simply means no thumbnail is embedded.
type Generator struct {
	cacheDir string
	logger   *zap.Logger
}

// NewGenerator creates the cache directory if needed.
func NewGenerator(cacheDir string, logger *zap.Logger) *Generator {
	_ = os.MkdirAll(cacheDir, 0o755)
	return &Generator{cacheDir: cacheDir, logger: logger.Named("thumbnail")}
}

// FromPoster returns thumbnail JPEG bytes for the given poster, consulting
// the cache first. Newly generated thumbnails are written back to the cache
// without blocking the caller.
func (g *Generator) FromPoster(posterURL string, poster []byte) []byte {
	cachePath := g.cachePath(posterURL)
	if data, err := os.ReadFile(cachePath); err == nil && len(data) > 0 {
		return data
	}

	img, _, err := image.Decode(bytes.NewReader(poster))
	if err != nil {
		g.logger.Warn("poster not decodable", zap.String("url", posterURL), zap.Error(err))
		return nil
	}

	thumb := resize.Thumbnail(maxWidth, maxHeight, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: jpegQuality}); err != nil {
		g.logger.Warn("thumbnail encode failed", zap.String("url", posterURL), zap.Error(err))
		return nil
	}
	data := buf.Bytes()

	go func() {
		if err := writeAtomic(cachePath, data); err != nil {
			g.logger.Debug("thumbnail cache write failed", zap.Error(err))
		}
	}()

	return data
}

func (g *Generator) cachePath(posterURL string) string {
	sum := sha1.Sum([]byte(posterURL))
	return filepath.Join(g.cacheDir, hex.EncodeToString(sum[:])+".jpg")
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
