// Package ioimporter implements the Reference Importer (C6): discovers and
// downloads the latest release of a taxonomic reference source, validates
// the archive, stages its rows, and normalizes them into the reconciler's
// reference corpus (spec §4.6).
package ioimporter

// Source is one entry of the importer's data-source registry: the corpus
// this system reconciles against, same source identifiers the Taxonomy
// Reconciler (C5) uses for source_priority ordering.
type Source struct {
	ID              string
	TitleShort      string
	Priority        int
	DatasetAPIBase  string // registry root, e.g. https://api.checklistbank.org/dataset
	ExportURLSuffix string // appended to a release's export endpoint
}

// DefaultSources is the importer's built-in registry. Real deployments
// may override it via config; this is the set the spec's worked examples
// (Catalogue of Life-shaped data) assume.
func DefaultSources() []Source {
	return []Source{
		{
			ID:              "col",
			TitleShort:      "Catalogue of Life",
			Priority:        1,
			DatasetAPIBase:  "https://api.checklistbank.org/dataset",
			ExportURLSuffix: "/export.zip?format=coldp",
		},
		{
			ID:              "gbif-backbone",
			TitleShort:      "GBIF Backbone Taxonomy",
			Priority:        2,
			DatasetAPIBase:  "https://api.gbif.org/v1/dataset",
			ExportURLSuffix: "/export.zip",
		},
		{
			ID:              "itis",
			TitleShort:      "Integrated Taxonomic Information System",
			Priority:        3,
			DatasetAPIBase:  "https://www.itis.gov/downloads",
			ExportURLSuffix: "/itisSqlite.zip",
		},
	}
}

func FindSource(sources []Source, id string) (Source, bool) {
	for _, s := range sources {
		if s.ID == id {
			return s, true
		}
	}
	return Source{}, false
}
