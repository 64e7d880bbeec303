// Package jellyfin implements the library adapter and enrichment
// collaborator for Jellyfin servers.
package jellyfin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/posterforge/posterforge/internal/media"
)

// Client is a thin JSON client for the Jellyfin HTTP API.
type Client struct {
	server     media.Server
	httpClient *http.Client
}

// NewClient creates an adapter for one configured Jellyfin server.
func NewClient(server media.Server) *Client {
	return &Client{
		server: server,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type itemsResponse struct {
	Items []dto `json:"Items"`
}

type dto struct {
	ID             string            `json:"Id"`
	Name           string            `json:"Name"`
	ProductionYear int               `json:"ProductionYear"`
	Type           string            `json:"Type"`
	Overview       string            `json:"Overview"`
	RunTimeTicks   int64             `json:"RunTimeTicks"`
	OfficialRating string            `json:"OfficialRating"`
	Genres         []string          `json:"Genres"`
	ImageTags      map[string]string `json:"ImageTags"`
	BackdropTags   []string          `json:"BackdropImageTags"`
	People         []person          `json:"People"`
	RemoteTrailers []struct {
		URL string `json:"Url"`
	} `json:"RemoteTrailers"`
	MediaSources []struct {
		Name string `json:"Name"`
	} `json:"MediaSources"`
	Studios []struct {
		Name string `json:"Name"`
	} `json:"Studios"`
}

type person struct {
	ID              string `json:"Id"`
	Name            string `json:"Name"`
	Role            string `json:"Role"`
	PrimaryImageTag string `json:"PrimaryImageTag"`
}

// FetchLibraryItems lists every movie and show under one library.
func (c *Client) FetchLibraryItems(ctx context.Context, libraryID string) ([]media.Item, error) {
	query := url.Values{
		"ParentId":         {libraryID},
		"IncludeItemTypes": {"Movie,Series"},
		"Recursive":        {"true"},
		"Fields":           {"Genres,Overview,OfficialRating"},
	}
	var result itemsResponse
	if err := c.get(ctx, "/Items", query, &result); err != nil {
		return nil, fmt.Errorf("listing jellyfin library %s: %w", libraryID, err)
	}

	items := make([]media.Item, 0, len(result.Items))
	for _, d := range result.Items {
		items = append(items, c.toItem(d))
	}
	return items, nil
}

// Enrich loads the full item record, adding trailers, cast and theme
// references.
func (c *Client) Enrich(ctx context.Context, it media.Item) (media.Item, error) {
	var d dto
	path := fmt.Sprintf("/Items/%s", url.PathEscape(it.ID))
	if err := c.get(ctx, path, url.Values{"Fields": {"People,RemoteTrailers,Genres,Overview"}}, &d); err != nil {
		return it, fmt.Errorf("enriching jellyfin item %s: %w", it.ID, err)
	}

	enriched := c.toItem(d)
	if len(d.RemoteTrailers) > 0 {
		enriched.TrailerURL = d.RemoteTrailers[0].URL
	}
	enriched.ThemeURL = fmt.Sprintf("/Items/%s/ThemeSongs", it.ID)
	for _, p := range d.People {
		entry := media.Person{Name: p.Name, Role: p.Role}
		if p.PrimaryImageTag != "" {
			entry.ThumbURL = fmt.Sprintf("/Items/%s/Images/Primary?tag=%s", p.ID, p.PrimaryImageTag)
		}
		enriched.People = append(enriched.People, entry)
	}
	return enriched, nil
}

func (c *Client) toItem(d dto) media.Item {
	it := media.Item{
		ID:      d.ID,
		Title:   d.Name,
		Year:    d.ProductionYear,
		Summary: d.Overview,
		Runtime: int(d.RunTimeTicks / (10_000_000 * 60)),
		Rating:  d.OfficialRating,
		Genres:  d.Genres,
	}
	switch d.Type {
	case "Movie":
		it.Type = media.MediaTypeMovie
	case "Series":
		it.Type = media.MediaTypeShow
	}
	if len(d.Studios) > 0 {
		it.Studio = d.Studios[0].Name
	}
	if tag, ok := d.ImageTags["Primary"]; ok {
		it.PosterURL = fmt.Sprintf("/Items/%s/Images/Primary?tag=%s", d.ID, tag)
	}
	if tag, ok := d.ImageTags["Logo"]; ok {
		it.ClearLogoURL = fmt.Sprintf("/Items/%s/Images/Logo?tag=%s", d.ID, tag)
	}
	if tag, ok := d.ImageTags["Banner"]; ok {
		it.BannerURL = fmt.Sprintf("/Items/%s/Images/Banner?tag=%s", d.ID, tag)
	}
	if len(d.BackdropTags) > 0 {
		it.BackgroundURL = fmt.Sprintf("/Items/%s/Images/Backdrop/0?tag=%s", d.ID, d.BackdropTags[0])
		for i, tag := range d.BackdropTags {
			if i == 0 {
				continue
			}
			it.FanartURLs = append(it.FanartURLs,
				fmt.Sprintf("/Items/%s/Images/Backdrop/%d?tag=%s", d.ID, i, tag))
		}
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
	req.Header.Set("Authorization", fmt.Sprintf(`MediaBrowser Token="%s"`, c.server.Token))

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
