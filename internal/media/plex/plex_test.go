package plex_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posterforge/posterforge/internal/media"
	"github.com/posterforge/posterforge/internal/media/plex"
)

const libraryResponse = `{
  "MediaContainer": {
    "Metadata": [
      {
        "ratingKey": "42",
        "title": "Heat",
        "year": 1995,
        "type": "movie",
        "summary": "A crew of thieves.",
        "studio": "Warner Bros.",
        "duration": 10200000,
        "thumb": "/library/metadata/42/thumb",
        "art": "/library/metadata/42/art",
        "contentRating": "R",
        "Genre": [{"tag": "Crime"}, {"tag": "Thriller"}],
        "Media": [{"videoResolution": "1080"}]
      },
      {
        "ratingKey": "43",
        "title": "Severance",
        "year": 2022,
        "type": "show",
        "thumb": "/library/metadata/43/thumb",
        "art": "/library/metadata/43/art"
      }
    ]
  }
}`

const metadataResponse = `{
  "MediaContainer": {
    "Metadata": [
      {
        "ratingKey": "42",
        "title": "Heat",
        "year": 1995,
        "type": "movie",
        "thumb": "/library/metadata/42/thumb",
        "art": "/library/metadata/42/art",
        "theme": "/library/metadata/42/theme",
        "Extras": {
          "Metadata": [
            {
              "subtype": "trailer",
              "Media": [{"Part": [{"key": "/library/parts/7/file.mp4"}]}]
            },
            {
              "subtype": "behindTheScenes",
              "Media": [{"Part": [{"key": "/library/parts/8/file.mp4"}]}]
            }
          ]
        },
        "Image": [
          {"type": "clearLogo", "url": "/library/metadata/42/clearlogo"}
        ],
        "Role": [
          {"tag": "Al Pacino", "role": "Vincent Hanna", "thumb": "/library/people/1/thumb"},
          {"tag": "Robert De Niro", "role": "Neil McCauley"}
        ]
      }
    ]
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *plex.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return plex.NewClient(media.Server{
		Name:    "plex-main",
		Type:    media.SourcePlex,
		BaseURL: srv.URL,
		Token:   "plex-secret",
	})
}

func TestFetchLibraryItems(t *testing.T) {
	var gotPath, gotToken, gotAccept string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Plex-Token")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(libraryResponse))
	})

	items, err := client.FetchLibraryItems(context.Background(), "3")
	require.NoError(t, err)

	assert.Equal(t, "/library/sections/3/all", gotPath)
	assert.Equal(t, "plex-secret", gotToken)
	assert.Equal(t, "application/json", gotAccept)

	require.Len(t, items, 2)
	heat := items[0]
	assert.Equal(t, "42", heat.ID)
	assert.Equal(t, "Heat", heat.Title)
	assert.Equal(t, 1995, heat.Year)
	assert.Equal(t, media.MediaTypeMovie, heat.Type)
	assert.Equal(t, 170, heat.Runtime, "duration is reported in milliseconds")
	assert.Equal(t, "R", heat.Rating)
	assert.Equal(t, "1080", heat.Quality)
	assert.Equal(t, []string{"Crime", "Thriller"}, heat.Genres)
	assert.Equal(t, "/library/metadata/42/thumb", heat.PosterURL)
	assert.Equal(t, "/library/metadata/42/art", heat.BackgroundURL)

	assert.Equal(t, media.MediaTypeShow, items[1].Type)
}

func TestFetchLibraryItemsUpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := client.FetchLibraryItems(context.Background(), "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestEnrich(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("includeExtras")
		w.Write([]byte(metadataResponse))
	})

	enriched, err := client.Enrich(context.Background(), media.Item{ID: "42", Title: "Heat"})
	require.NoError(t, err)

	assert.Equal(t, "1", gotQuery)
	assert.Equal(t, "/library/parts/7/file.mp4", enriched.TrailerURL, "only trailer extras qualify")
	assert.Equal(t, "/library/metadata/42/theme", enriched.ThemeURL)
	assert.Equal(t, "/library/metadata/42/clearlogo", enriched.ClearLogoURL)

	require.Len(t, enriched.People, 2)
	assert.Equal(t, "Al Pacino", enriched.People[0].Name)
	assert.Equal(t, "Vincent Hanna", enriched.People[0].Role)
	assert.Equal(t, "/library/people/1/thumb", enriched.People[0].ThumbURL)
	assert.Empty(t, enriched.People[1].ThumbURL)
}

func TestEnrichUnknownItem(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"MediaContainer": {"Metadata": []}}`))
	})

	_, err := client.Enrich(context.Background(), media.Item{ID: "999"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
