package server

import (
	"strconv"
	"time"

	"github.com/John-Robertt/ratingmeta/internal/cinemeta"
	"github.com/John-Robertt/ratingmeta/internal/domain"
)

// ProviderOptions 是配置页可选的来源（"all" 表示不过滤）。
var ProviderOptions = []string{
	domain.AllProviders,
	"imdb",
	"rotten_tomatoes",
	"metacritic",
	"crunchyroll",
	"filmaffinity",
	"times of india",
	"common sense media",
	"peacock",
	"fandango",
	"ign",
	"flick_filosopher",
}

var genres = []string{
	"Action", "Adventure", "Animation", "Biography", "Comedy", "Crime", "Documentary", "Drama",
	"Family", "Fantasy", "History", "Horror", "Musical", "Mystery", "Romance", "Sci-Fi", "Sport", "Thriller",
}

type manifest struct {
	ID            string          `json:"id"`
	Version       string          `json:"version"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Resources     []string        `json:"resources"`
	Types         []string        `json:"types"`
	IDPrefixes    []string        `json:"idPrefixes"`
	Catalogs      []manifestEntry `json:"catalogs"`
	BehaviorHints map[string]bool `json:"behaviorHints"`
	Config        []configField   `json:"config"`
}

type manifestEntry struct {
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Type  string       `json:"type"`
	Extra []extraField `json:"extra"`
}

type extraField struct {
	Name       string   `json:"name"`
	IsRequired bool     `json:"isRequired"`
	Options    []string `json:"options,omitempty"`
}

type configField struct {
	Key      string   `json:"key"`
	Title    string   `json:"title"`
	Type     string   `json:"type"`
	Options  []string `json:"options"`
	Default  string   `json:"default"`
	Required bool     `json:"required"`
}

// buildManifest 生成 addon manifest；best_yoy 的年份选项从当年倒数到 2000。
func buildManifest(version string, now time.Time) manifest {
	years := make([]string, 0, now.Year()-1999)
	for y := now.Year(); y >= 2000; y-- {
		years = append(years, strconv.Itoa(y))
	}
	genreExtra := []extraField{{Name: "genre", Options: genres}}

	var catalogs []manifestEntry
	for _, typ := range []domain.MediaType{domain.MediaMovie, domain.MediaSeries} {
		t := string(typ)
		catalogs = append(catalogs,
			manifestEntry{ID: cinemeta.CatalogTrending, Name: "Trending", Type: t, Extra: genreExtra},
			manifestEntry{ID: cinemeta.CatalogFeatured, Name: "Featured", Type: t, Extra: genreExtra},
			manifestEntry{ID: cinemeta.CatalogSearch, Name: "Search", Type: t, Extra: []extraField{{Name: "search", IsRequired: true}}},
			manifestEntry{ID: cinemeta.CatalogBestYoY, Name: "Best of the Year", Type: t, Extra: []extraField{{Name: "genre", IsRequired: true, Options: years}}},
		)
	}

	return manifest{
		ID:          "org.ratingmeta.ratings",
		Version:     version,
		Name:        "Ratings from Multiple Sources",
		Description: "Adds ratings from IMDb, Rotten Tomatoes, Metacritic and others to description and poster.",
		Resources:   []string{"catalog", "meta"},
		Types:       []string{string(domain.MediaMovie), string(domain.MediaSeries)},
		IDPrefixes:  []string{"tt"},
		Catalogs:    catalogs,
		BehaviorHints: map[string]bool{
			"configurable":          true,
			"configurationRequired": false,
		},
		Config: []configField{{
			Key:      "providers",
			Title:    "Select Providers to Fetch Ratings From",
			Type:     "multiselect",
			Options:  ProviderOptions,
			Default:  domain.AllProviders,
			Required: true,
		}},
	}
}
