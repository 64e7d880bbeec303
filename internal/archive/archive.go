// Package archive assembles posterpack ZIP bundles and their metadata
// manifests.
package archive

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/posterforge/posterforge/internal/media"
)

// AssetFlags records which assets actually made it into a posterpack.
type AssetFlags struct {
	Poster     bool `json:"poster"`
	Background bool `json:"background"`
	ClearLogo  bool `json:"clearlogo"`
	Banner     bool `json:"banner"`
	Hero       bool `json:"hero"`
	Composite  bool `json:"composite"`
	SquareBg   bool `json:"square_background"`
	Thumbnail  bool `json:"thumbnail"`
	Fanart     int  `json:"fanart"`
	Trailer    bool `json:"trailer"`
	Theme      bool `json:"theme"`
}

// Manifest is the metadata.json document written into every posterpack.
type Manifest struct {
	media.Item
	Source      string     `json:"source"`
	Assets      AssetFlags `json:"assets"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// MarshalIndentJSON renders the metadata.json document.
func (m Manifest) MarshalIndentJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Entry is one file staged for the archive.
type Entry struct {
	Name string
	Data []byte
}

// Builder stages posterpack entries in memory and writes them out in one
// shot, so a failed validation gate can discard the bundle without leaving
// partial output behind.
type Builder struct {
	entries []Entry
	level   int
}

// NewBuilder maps the configured compression tier onto a deflate level.
func NewBuilder(compressionLevel string) *Builder {
	level := flate.DefaultCompression
	switch compressionLevel {
	case "fast":
		level = flate.BestSpeed
	case "max":
		level = flate.BestCompression
	}
	return &Builder{level: level}
}

// Add stages one file. Empty payloads are ignored.
func (b *Builder) Add(name string, data []byte) {
	if len(data) == 0 {
		return
	}
	b.entries = append(b.entries, Entry{Name: name, Data: data})
}

// Len reports how many entries are staged.
func (b *Builder) Len() int {
	return len(b.entries)
}

// WriteFile writes the archive to path via a temp file rename and returns
// the final size in bytes.
func (b *Builder) WriteFile(path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("creating output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".posterpack-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	zw := zip.NewWriter(tmp)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, b.level)
	})

	for _, entry := range b.entries {
		w, err := zw.Create(entry.Name)
		if err != nil {
			tmp.Close()
			return 0, fmt.Errorf("creating archive entry %s: %w", entry.Name, err)
		}
		if _, err := w.Write(entry.Data); err != nil {
			tmp.Close()
			return 0, fmt.Errorf("writing archive entry %s: %w", entry.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("finalizing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing archive: %w", err)
	}

	info, err := os.Stat(tmpName)
	if err != nil {
		return 0, fmt.Errorf("stating archive: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("moving archive into place: %w", err)
	}
	return info.Size(), nil
}

// Filename renders the output filename template ({title}, {year} tokens)
// and strips characters that are unsafe on common filesystems.
func Filename(template, title string, year int) string {
	name := strings.ReplaceAll(template, "{title}", title)
	name = strings.ReplaceAll(name, "{year}", strconv.Itoa(year))
	name = sanitize(name)
	return name + ".zip"
}

func sanitize(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			continue
		}
		if r < 0x20 {
			continue
		}
		sb.WriteRune(r)
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
