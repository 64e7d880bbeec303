package media

import "context"

// SourceType identifies the kind of media server an item came from.
type SourceType string

const (
	SourcePlex     SourceType = "plex"
	SourceJellyfin SourceType = "jellyfin"
)

// MediaType represents the type of media content.
type MediaType string

const (
	MediaTypeMovie MediaType = "movie"
	MediaTypeShow  MediaType = "show"
)

// Person is a cast or crew entry attached to an item.
type Person struct {
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"`
	ThumbURL string `json:"-"`
	// Thumb is the in-archive relative path of the embedded image, set only
	// once the image has actually been written into the posterpack.
	Thumb string `json:"thumb,omitempty"`
}

// Item is a read-only reference to one media library entry. Adapters produce
// items; the engine only filters and passes them through.
type Item struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Year    int       `json:"year,omitempty"`
	Type    MediaType `json:"type"`
	Summary string    `json:"summary,omitempty"`
	Studio  string    `json:"studio,omitempty"`
	Runtime int       `json:"runtime,omitempty"` // minutes

	Genres  []string `json:"genres,omitempty"`
	Rating  string   `json:"rating,omitempty"`  // content rating, e.g. PG-13
	Quality string   `json:"quality,omitempty"` // e.g. 1080p, 4k

	PosterURL     string   `json:"-"`
	BackgroundURL string   `json:"-"`
	ClearLogoURL  string   `json:"-"`
	BannerURL     string   `json:"-"`
	HeroURL       string   `json:"-"`
	CompositeURL  string   `json:"-"`
	SquareBgURL   string   `json:"-"`
	FanartURLs    []string `json:"-"`

	TrailerURL string `json:"-"`
	ThemeURL   string `json:"-"`

	People []Person `json:"people,omitempty"`
}

// LibraryAdapter lists the items of one library on a media server.
type LibraryAdapter interface {
	FetchLibraryItems(ctx context.Context, libraryID string) ([]Item, error)
}

// Enricher augments an item with fields that require extra server round
// trips: trailer and theme references, cast thumbnails, fan-art.
type Enricher interface {
	Enrich(ctx context.Context, item Item) (Item, error)
}

// Adapter is the full per-source collaborator surface.
type Adapter interface {
	LibraryAdapter
	Enricher
}

// Server describes one configured media server instance.
type Server struct {
	Name    string
	Type    SourceType
	BaseURL string
	Token   string
}
