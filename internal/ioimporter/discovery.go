package ioimporter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/fieldnote/dex/pkg/errcode"
)

// discoveryLimit caps the number of release candidates considered, newest
// first (spec §4.6 stage 1).
const discoveryLimit = 5

// release is one candidate from the source's dataset registry.
type release struct {
	Key         string    `json:"key"`
	Origin      string    `json:"origin"`
	Created     time.Time `json:"created"`
	ExportURL   string    `json:"exportUrl"`
}

// releaseListing is the registry's response shape; real registries vary,
// but all expose created-descending listings filterable by origin.
type releaseListing struct {
	Results []release `json:"results"`
}

// Discover finds the newest usable release of source (spec §4.6 stage 1):
// query the registry for origin=release candidates, newest-first, limit 5,
// HEAD each export URL until one returns 200.
func Discover(ctx context.Context, client *http.Client, source Source) (string, error) {
	listing, err := fetchReleaseListing(ctx, client, source)
	if err != nil {
		return "", errcode.New(errcode.ImportNoReleaseError, "release discovery failed", err)
	}

	candidates := filterReleaseOrigin(listing.Results)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Created.After(candidates[j].Created) })
	if len(candidates) > discoveryLimit {
		candidates = candidates[:discoveryLimit]
	}

	for _, c := range candidates {
		url := c.ExportURL
		if url == "" {
			url = source.DatasetAPIBase + "/" + c.Key + source.ExportURLSuffix
		}
		if headOK(ctx, client, url) {
			return url, nil
		}
	}

	return "", errcode.New(errcode.ImportNoReleaseError,
		fmt.Sprintf("no downloadable release found for source %s", source.ID), nil)
}

func filterReleaseOrigin(all []release) []release {
	var out []release
	for _, r := range all {
		if r.Origin == "release" {
			out = append(out, r)
		}
	}
	return out
}

func fetchReleaseListing(ctx context.Context, client *http.Client, source Source) (releaseListing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.DatasetAPIBase, nil)
	if err != nil {
		return releaseListing{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return releaseListing{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return releaseListing{}, fmt.Errorf("registry returned status %d", resp.StatusCode)
	}

	var listing releaseListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return releaseListing{}, err
	}
	return listing, nil
}

func headOK(ctx context.Context, client *http.Client, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
