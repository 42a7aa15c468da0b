package crossforge

import (
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// resolveLatest fetches the directory listing at mirrorURL and returns the
// highest version published for the given archive prefix (e.g. "binutils-").
// The pattern is anchored on the prefix so listings mixing several packages
// with a shared substring (gcc vs gcc-arm) cannot cross-match. Failure is
// silent: the empty string means "resolution failed" and the caller decides
// whether to abort or fall back to the pinned default.
func resolveLatest(client *http.Client, mirrorURL, prefix string) string {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Get(mirrorURL)
	if err != nil {
		debugf("version listing fetch failed: %v\n", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		debugf("version listing returned %s\n", resp.Status)
		return ""
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		debugf("version listing read failed: %v\n", err)
		return ""
	}
	return latestFromListing(string(body), prefix)
}

// latestFromListing scans href attributes for prefix-anchored dotted numeric
// versions (1 to 4 components) and returns the highest one.
func latestFromListing(listing, prefix string) string {
	pattern := regexp.MustCompile(`(?i)href="[^"]*?` +
		regexp.QuoteMeta(prefix) + `(\d+(?:\.\d+){0,3})\.tar`)

	seen := make(map[string]bool)
	var versions []string
	for _, m := range pattern.FindAllStringSubmatch(listing, -1) {
		v := m[1]
		if !seen[v] {
			seen[v] = true
			versions = append(versions, v)
		}
	}
	if len(versions) == 0 {
		return ""
	}

	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(versions[i], versions[j]) > 0
	})
	return versions[0]
}

// compareVersions compares two version strings split by dots. Numeric
// segments are compared numerically; non-numeric fall back to lexicographic.
// Returns -1 if a<b, 0 if equal, 1 if a>b.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		var av, bv string
		if i < len(as) {
			av = as[i]
		} else {
			av = "0"
		}
		if i < len(bs) {
			bv = bs[i]
		} else {
			bv = "0"
		}

		// Try numeric compare
		ai, aerr := strconv.Atoi(av)
		bi, berr := strconv.Atoi(bv)
		if aerr == nil && berr == nil {
			if ai < bi {
				return -1
			}
			if ai > bi {
				return 1
			}
			continue
		}
		// Fallback string compare
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

// resolveAll resolves the latest version for every package in the pipeline
// and returns name -> version. Packages whose listing is unreachable map to
// the empty string.
func resolveAll(client *http.Client, cfg *Config) map[string]string {
	out := make(map[string]string)
	for _, role := range pipelineRoles(cfg) {
		name := role.PackageName()
		if _, done := out[name]; done {
			continue
		}
		out[name] = resolveLatest(client, role.listingURL(cfg), name+"-")
	}
	return out
}
