// Package item turns one media library entry into a posterpack archive.
package item

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/posterforge/posterforge/internal/archive"
	"github.com/posterforge/posterforge/internal/config"
	"github.com/posterforge/posterforge/internal/download"
	"github.com/posterforge/posterforge/internal/exportlog"
	"github.com/posterforge/posterforge/internal/media"
	"github.com/posterforge/posterforge/internal/thumbnail"
)

// Payloads smaller than this are treated as error pages mistaken for media
// and rejected for trailer/theme assets.
const minMediaBytes = 64 * 1024

const (
	maxFanart        = 5
	fanartWorkers    = 6
	personWorkers    = 4
	maxPersonsPerPack = 20
)

// Result is the immutable outcome of processing one item.
type Result struct {
	ItemID     string             `json:"item_id"`
	Title      string             `json:"title"`
	Success    bool               `json:"success"`
	OutputPath string             `json:"output_path,omitempty"`
	Size       int64              `json:"size,omitempty"`
	Assets     archive.AssetFlags `json:"assets"`
	Error      string             `json:"error,omitempty"`
}

// Processor orchestrates the asset downloads and archive assembly for a
// single item. One processor instance is shared by all jobs.
type Processor struct {
	fetcher          *download.Fetcher
	thumbs           *thumbnail.Generator
	export           config.ExportConfig
	assetConcurrency int
	enrichers        map[string]media.Enricher // keyed by server name
	logger           *zap.Logger
}

// NewProcessor wires the item processor. thumbs may be nil, in which case
// thumbnail derivation is skipped gracefully.
func NewProcessor(
	fetcher *download.Fetcher,
	thumbs *thumbnail.Generator,
	export config.ExportConfig,
	assetConcurrency int,
	enrichers map[string]media.Enricher,
	logger *zap.Logger,
) *Processor {
	if assetConcurrency < 1 {
		assetConcurrency = 1
	}
	return &Processor{
		fetcher:          fetcher,
		thumbs:           thumbs,
		export:           export,
		assetConcurrency: assetConcurrency,
		enrichers:        enrichers,
		logger:           logger.Named("item"),
	}
}

// Process generates one posterpack. Missing poster or background is the
// only hard failure; every other missing asset degrades the bundle and is
// logged.
func (p *Processor) Process(ctx context.Context, it media.Item, server media.Server, jlog *exportlog.JobLog) Result {
	result := Result{ItemID: it.ID, Title: it.Title}

	if enricher, ok := p.enrichers[server.Name]; ok {
		enriched, err := enricher.Enrich(ctx, it)
		if err != nil {
			jlog.Warn("enrichment failed, using original item",
				map[string]string{"item": it.Title, "error": err.Error()})
		} else {
			it = enriched
		}
	}

	builder := archive.NewBuilder(p.export.CompressionLevel)
	flags := archive.AssetFlags{}

	primary := p.fetchPrimary(ctx, it, server)
	if data := primary["poster"]; len(data) > 0 {
		builder.Add("poster.jpg", data)
		flags.Poster = true
	} else {
		jlog.Warn("poster missing", map[string]string{"item": it.Title})
	}
	if data := primary["background"]; len(data) > 0 {
		builder.Add("background.jpg", data)
		flags.Background = true
	} else {
		jlog.Warn("background missing", map[string]string{"item": it.Title})
	}
	if data := primary["clearlogo"]; len(data) > 0 {
		builder.Add("clearlogo.png", data)
		flags.ClearLogo = true
	}

	// Large optional images are fetched one at a time to bound peak memory.
	if it.BannerURL != "" {
		if data := p.fetcher.Fetch(ctx, it.BannerURL, server.Name, download.KindImage); len(data) > 0 {
			builder.Add("banner.jpg", data)
			flags.Banner = true
		}
	}
	if it.HeroURL != "" {
		if data := p.fetcher.Fetch(ctx, it.HeroURL, server.Name, download.KindImage); len(data) > 0 {
			builder.Add("hero.jpg", data)
			flags.Hero = true
		}
	}
	if p.export.IncludeDiscArt && it.CompositeURL != "" {
		if data := p.fetcher.Fetch(ctx, it.CompositeURL, server.Name, download.KindImage); len(data) > 0 {
			builder.Add("composite.png", data)
			flags.Composite = true
		}
	}
	if it.SquareBgURL != "" {
		if data := p.fetcher.Fetch(ctx, it.SquareBgURL, server.Name, download.KindImage); len(data) > 0 {
			builder.Add("square-background.jpg", data)
			flags.SquareBg = true
		}
	}

	if p.export.GenerateThumbnails && p.thumbs != nil && flags.Poster {
		if data := p.thumbs.FromPoster(it.PosterURL, primary["poster"]); len(data) > 0 {
			builder.Add("thumbnail.jpg", data)
			flags.Thumbnail = true
		}
	}

	if p.export.IncludeFanart {
		flags.Fanart = p.fetchFanart(ctx, it, server, builder)
	}

	p.fetchExtras(ctx, it, server, builder, &flags, jlog)
	it.People = p.fetchPeople(ctx, it, server, builder)

	manifest := archive.Manifest{
		Item:        it,
		Source:      server.Name,
		Assets:      flags,
		GeneratedAt: time.Now().UTC(),
	}
	manifestJSON, err := manifest.MarshalIndentJSON()
	if err != nil {
		result.Error = fmt.Sprintf("building manifest: %v", err)
		return result
	}
	builder.Add("metadata.json", manifestJSON)

	// Validation gate: poster and background are each mandatory. The
	// in-progress archive is discarded, the item fails, the job continues.
	if !flags.Poster || !flags.Background {
		result.Assets = flags
		result.Error = "required asset missing: poster and background are mandatory"
		jlog.Error("item failed validation", map[string]interface{}{
			"item": it.Title, "poster": flags.Poster, "background": flags.Background,
		})
		return result
	}

	outPath := filepath.Join(p.export.OutputDir, server.Name,
		archive.Filename(p.export.FilenameTemplate, it.Title, it.Year))
	size, err := builder.WriteFile(outPath)
	if err != nil {
		result.Error = fmt.Sprintf("writing archive: %v", err)
		jlog.Error("archive write failed", map[string]string{"item": it.Title, "error": err.Error()})
		return result
	}

	result.Success = true
	result.OutputPath = outPath
	result.Size = size
	result.Assets = flags
	jlog.Info("posterpack written", map[string]interface{}{
		"item": it.Title, "path": outPath, "bytes": size,
	})
	return result
}

// fetchPrimary downloads poster, background and clear-logo concurrently,
// bounded by the per-item asset ceiling.
func (p *Processor) fetchPrimary(ctx context.Context, it media.Item, server media.Server) map[string][]byte {
	type target struct {
		name string
		url  string
	}
	targets := []target{
		{"poster", it.PosterURL},
		{"background", it.BackgroundURL},
	}
	if p.export.IncludeClearArt && it.ClearLogoURL != "" {
		targets = append(targets, target{"clearlogo", it.ClearLogoURL})
	}

	results := make(map[string][]byte, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.assetConcurrency)

	for _, t := range targets {
		if t.url == "" {
			continue
		}
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			data := p.fetcher.Fetch(ctx, t.url, server.Name, download.KindImage)
			mu.Lock()
			results[t.name] = data
			mu.Unlock()
		}(t)
	}
	wg.Wait()
	return results
}

// fetchFanart downloads up to maxFanart entries with a dedicated small
// worker pool and returns how many were embedded.
func (p *Processor) fetchFanart(ctx context.Context, it media.Item, server media.Server, builder *archive.Builder) int {
	urls := it.FanartURLs
	if len(urls) > maxFanart {
		urls = urls[:maxFanart]
	}
	if len(urls) == 0 {
		return 0
	}

	type fanart struct {
		index int
		data  []byte
	}
	jobs := make(chan int)
	out := make(chan fanart, len(urls))
	var wg sync.WaitGroup

	workers := fanartWorkers
	if workers > len(urls) {
		workers = len(urls)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				data := p.fetcher.Fetch(ctx, urls[i], server.Name, download.KindImage)
				if len(data) > 0 {
					out <- fanart{index: i, data: data}
				}
			}
		}()
	}
	for i := range urls {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(out)

	count := 0
	for fa := range out {
		builder.Add(fmt.Sprintf("fanart/fanart-%d.jpg", fa.index+1), fa.data)
		count++
	}
	return count
}

// fetchExtras resolves the trailer and theme clips. Both are best-effort
// and guarded by a minimum payload size so an error page is never embedded
// as media.
func (p *Processor) fetchExtras(ctx context.Context, it media.Item, server media.Server, builder *archive.Builder, flags *archive.AssetFlags, jlog *exportlog.JobLog) {
	if it.TrailerURL != "" {
		data := p.fetcher.Fetch(ctx, it.TrailerURL, server.Name, download.KindMedia)
		if len(data) >= minMediaBytes {
			builder.Add("trailer.mp4", data)
			flags.Trailer = true
		} else if data != nil {
			jlog.Warn("trailer payload below size threshold, discarded",
				map[string]interface{}{"item": it.Title, "bytes": len(data)})
		}
	}
	if it.ThemeURL != "" {
		data := p.fetcher.Fetch(ctx, it.ThemeURL, server.Name, download.KindMedia)
		if len(data) >= minMediaBytes {
			builder.Add("theme.mp3", data)
			flags.Theme = true
		} else if data != nil {
			jlog.Warn("theme payload below size threshold, discarded",
				map[string]interface{}{"item": it.Title, "bytes": len(data)})
		}
	}
}

// fetchPeople downloads cast/crew thumbnails with a small bounded pool.
// A person whose image embeds successfully gets its manifest entry pointed
// at the in-archive path; everyone else stays thumbnail-less.
func (p *Processor) fetchPeople(ctx context.Context, it media.Item, server media.Server, builder *archive.Builder) []media.Person {
	people := it.People
	if len(people) > maxPersonsPerPack {
		people = people[:maxPersonsPerPack]
	}
	if len(people) == 0 {
		return people
	}

	out := make([]media.Person, len(people))
	copy(out, people)

	type embedded struct {
		index int
		path  string
		data  []byte
	}
	jobs := make(chan int)
	done := make(chan embedded, len(people))
	var wg sync.WaitGroup

	workers := personWorkers
	if workers > len(people) {
		workers = len(people)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				person := people[i]
				if person.ThumbURL == "" {
					continue
				}
				data := p.fetcher.Fetch(ctx, person.ThumbURL, server.Name, download.KindImage)
				if len(data) == 0 {
					continue
				}
				done <- embedded{
					index: i,
					path:  fmt.Sprintf("people/%s.jpg", personFileName(person.Name, i)),
					data:  data,
				}
			}
		}()
	}
	for i := range people {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(done)

	for e := range done {
		builder.Add(e.path, e.data)
		out[e.index].Thumb = e.path
	}
	for i := range out {
		out[i].ThumbURL = ""
	}
	return out
}

func personFileName(name string, index int) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		}
		return -1
	}, name)
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		return fmt.Sprintf("person-%d", index+1)
	}
	return strings.ToLower(cleaned)
}
