package archive_test

import (
	"archive/zip"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posterforge/posterforge/internal/archive"
	"github.com/posterforge/posterforge/internal/media"
)

func TestFilename(t *testing.T) {
	tests := []struct {
		name     string
		template string
		title    string
		year     int
		want     string
	}{
		{"default template", "{title} ({year})", "Heat", 1995, "Heat (1995).zip"},
		{"title only", "{title}", "Alien", 1979, "Alien.zip"},
		{"unsafe characters stripped", "{title} ({year})", `Face/Off: A "Story"?`, 1997, "FaceOff A Story (1997).zip"},
		{"whitespace collapsed", "{title}", "The   Thing ", 1982, "The Thing.zip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, archive.Filename(tt.template, tt.title, tt.year))
		})
	}
}

func TestBuilderWritesReadableArchive(t *testing.T) {
	b := archive.NewBuilder("balanced")
	b.Add("poster.jpg", []byte("poster-bytes"))
	b.Add("background.jpg", []byte("background-bytes"))
	b.Add("empty.bin", nil) // ignored
	require.Equal(t, 2, b.Len())

	manifest := archive.Manifest{
		Item:        media.Item{ID: "42", Title: "Heat", Year: 1995, Type: media.MediaTypeMovie},
		Source:      "plex-main",
		Assets:      archive.AssetFlags{Poster: true, Background: true},
		GeneratedAt: time.Now().UTC(),
	}
	data, err := manifest.MarshalIndentJSON()
	require.NoError(t, err)
	b.Add("metadata.json", data)

	path := filepath.Join(t.TempDir(), "plex-main", "Heat (1995).zip")
	size, err := b.WriteFile(path)
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	contents := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		contents[f.Name] = body
	}

	assert.Equal(t, []byte("poster-bytes"), contents["poster.jpg"])
	assert.Equal(t, []byte("background-bytes"), contents["background.jpg"])
	assert.NotContains(t, contents, "empty.bin")

	var decoded archive.Manifest
	require.NoError(t, json.Unmarshal(contents["metadata.json"], &decoded))
	assert.Equal(t, "Heat", decoded.Title)
	assert.Equal(t, "plex-main", decoded.Source)
	assert.True(t, decoded.Assets.Poster)
}

func TestCompressionTiers(t *testing.T) {
	for _, level := range []string{"fast", "balanced", "max"} {
		t.Run(level, func(t *testing.T) {
			b := archive.NewBuilder(level)
			b.Add("data.txt", []byte("compressible compressible compressible"))
			path := filepath.Join(t.TempDir(), "out.zip")
			_, err := b.WriteFile(path)
			require.NoError(t, err)

			zr, err := zip.OpenReader(path)
			require.NoError(t, err)
			defer zr.Close()
			require.Len(t, zr.File, 1)

			rc, err := zr.File[0].Open()
			require.NoError(t, err)
			body, err := io.ReadAll(rc)
			rc.Close()
			require.NoError(t, err)
			assert.Equal(t, "compressible compressible compressible", string(body))
		})
	}
}
