package igdb

import (
	"math"
	"strings"
	"time"

	"github.com/Myrient-Search/Myrient-Search/internal/catalog"
)

// Normalize maps an IGDB hit onto catalog enrichment fields. An absent
// summary still yields a non-nil empty description so the row counts as
// enriched and is not re-queued on the next incremental run.
func Normalize(h *Hit) catalog.EnrichmentFields {
	f := catalog.EnrichmentFields{Description: strptr(h.Summary)}

	if h.Rating > 0 {
		r := math.Round(h.Rating/20*100) / 100
		f.Rating = &r
	}
	if h.FirstReleaseDate > 0 {
		d := time.Unix(h.FirstReleaseDate, 0).UTC().Format("2006-01-02")
		f.ReleaseDate = &d
	}
	if len(h.InvolvedCompanies) > 0 {
		name := h.InvolvedCompanies[0].Company.Name
		if name != "" {
			f.Developer = strptr(name)
			f.Publisher = strptr(name)
		}
	}
	if len(h.Genres) > 0 {
		names := make([]string, 0, len(h.Genres))
		for _, g := range h.Genres {
			if g.Name != "" {
				names = append(names, g.Name)
			}
		}
		if len(names) > 0 {
			f.Genre = strptr(strings.Join(names, ", "))
		}
	}
	f.Images = imageURLs(h)
	return f
}

// NormalizeMiss marks a game the provider returned nothing for. The empty
// description records that the lookup happened.
func NormalizeMiss() catalog.EnrichmentFields {
	return catalog.EnrichmentFields{Description: strptr("")}
}

// imageURLs collects the cover plus up to three screenshots, rewritten from
// IGDB's protocol-relative thumbnail form to full-size https URLs.
func imageURLs(h *Hit) []string {
	var urls []string
	if h.Cover != nil && h.Cover.URL != "" {
		urls = append(urls, fixImageURL(h.Cover.URL))
	}
	for i, s := range h.Screenshots {
		if i == 3 {
			break
		}
		if s.URL != "" {
			urls = append(urls, fixImageURL(s.URL))
		}
	}
	return urls
}

func fixImageURL(u string) string {
	if strings.HasPrefix(u, "//") {
		u = "https:" + u
	}
	return strings.Replace(u, "t_thumb", "t_1080p", 1)
}

func strptr(v string) *string { return &v }
