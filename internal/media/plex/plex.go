// Package plex implements the library adapter and enrichment collaborator
// for Plex Media Server.
package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/posterforge/posterforge/internal/media"
)

// Client is a thin JSON client for the Plex HTTP API.
type Client struct {
	server     media.Server
	httpClient *http.Client
}

// NewClient creates an adapter for one configured Plex server.
func NewClient(server media.Server) *Client {
	return &Client{
		server: server,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type container struct {
	MediaContainer struct {
		Metadata []metadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

type metadata struct {
	RatingKey     string `json:"ratingKey"`
	Title         string `json:"title"`
	Year          int    `json:"year"`
	Type          string `json:"type"`
	Summary       string `json:"summary"`
	Studio        string `json:"studio"`
	Duration      int    `json:"duration"` // milliseconds
	Thumb         string `json:"thumb"`
	Art           string `json:"art"`
	Banner        string `json:"banner"`
	Theme         string `json:"theme"`
	ContentRating string `json:"contentRating"`
	Genre         []tag  `json:"Genre"`
	Role          []role `json:"Role"`
	Media         []struct {
		VideoResolution string `json:"videoResolution"`
	} `json:"Media"`
	Extras struct {
		Metadata []extra `json:"Metadata"`
	} `json:"Extras"`
	Image []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"Image"`
}

type tag struct {
	Tag string `json:"tag"`
}

type role struct {
	Tag   string `json:"tag"` // person name
	Role  string `json:"role"`
	Thumb string `json:"thumb"`
}

type extra struct {
	Subtype string `json:"subtype"`
	Media   []struct {
		Part []struct {
			Key string `json:"key"`
		} `json:"Part"`
	} `json:"Media"`
}

// FetchLibraryItems lists every item of one library section.
func (c *Client) FetchLibraryItems(ctx context.Context, libraryID string) ([]media.Item, error) {
	var result container
	path := fmt.Sprintf("/library/sections/%s/all", url.PathEscape(libraryID))
	if err := c.get(ctx, path, nil, &result); err != nil {
		return nil, fmt.Errorf("listing plex library %s: %w", libraryID, err)
	}

	items := make([]media.Item, 0, len(result.MediaContainer.Metadata))
	for _, md := range result.MediaContainer.Metadata {
		items = append(items, c.toItem(md))
	}
	return items, nil
}

// Enrich loads the item's full metadata record, which adds extras
// (trailers), the theme reference and the cast list.
func (c *Client) Enrich(ctx context.Context, it media.Item) (media.Item, error) {
	var result container
	path := fmt.Sprintf("/library/metadata/%s", url.PathEscape(it.ID))
	query := url.Values{"includeExtras": {"1"}}
	if err := c.get(ctx, path, query, &result); err != nil {
		return it, fmt.Errorf("enriching plex item %s: %w", it.ID, err)
	}
	if len(result.MediaContainer.Metadata) == 0 {
		return it, fmt.Errorf("plex item %s not found", it.ID)
	}

	md := result.MediaContainer.Metadata[0]
	enriched := c.toItem(md)

	for _, ex := range md.Extras.Metadata {
		if ex.Subtype != "trailer" {
			continue
		}
		for _, m := range ex.Media {
			for _, part := range m.Part {
				if part.Key != "" {
					enriched.TrailerURL = part.Key
				}
			}
		}
	}
	if md.Theme != "" {
		enriched.ThemeURL = md.Theme
	}
	for _, img := range md.Image {
		switch img.Type {
		case "clearLogo":
			enriched.ClearLogoURL = img.URL
		case "background":
			if enriched.BackgroundURL == "" {
				enriched.BackgroundURL = img.URL
			}
		}
	}
	for _, r := range md.Role {
		enriched.People = append(enriched.People, media.Person{
			Name:     r.Tag,
			Role:     r.Role,
			ThumbURL: r.Thumb,
		})
	}
	return enriched, nil
}

func (c *Client) toItem(md metadata) media.Item {
	it := media.Item{
		ID:            md.RatingKey,
		Title:         md.Title,
		Year:          md.Year,
		Summary:       md.Summary,
		Studio:        md.Studio,
		Runtime:       md.Duration / 60000,
		Rating:        md.ContentRating,
		PosterURL:     md.Thumb,
		BackgroundURL: md.Art,
		BannerURL:     md.Banner,
		ThemeURL:      md.Theme,
	}
	switch md.Type {
	case "movie":
		it.Type = media.MediaTypeMovie
	case "show":
		it.Type = media.MediaTypeShow
	}
	for _, g := range md.Genre {
		it.Genres = append(it.Genres, g.Tag)
	}
	if len(md.Media) > 0 {
		it.Quality = md.Media[0].VideoResolution
	}
	return it
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	if query == nil {
		query = url.Values{}
	}
	target := c.server.BaseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", c.server.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
