package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// sourceTableKey is the array-of-tables key for [[source]] entries.
const sourceTableKey = "source"

// knownGlobalKeys are the valid flat top-level keys in the config file.
var knownGlobalKeys = map[string]bool{
	// Watch settings
	"refresh_interval": true, "foreground_interval": true, "background_floor": true,
	"wifi_only": true, "priority_workers": true, "background_workers": true,
	"resolve_batch_size": true,
	// Network settings
	"connect_timeout": true, "data_timeout": true, "user_agent": true,
	"requests_per_second": true, "burst": true,
	// Logging settings
	"log_level": true, "log_file": true, "log_format": true,
	// Server settings
	"listen": true,
	// State settings
	"state_dir": true, "prune_schedule": true, "prune_after": true,
	// Tables
	sourceTableKey: true,
}

// knownSourceKeys are the valid keys inside a [[source]] table.
var knownSourceKeys = map[string]bool{
	"name": true, "base_url": true, "watch": true,
}

var (
	knownGlobalKeysList = sortedKeys(knownGlobalKeys)
	knownSourceKeysList = sortedKeys(knownSourceKeys)
)

// sortedKeys returns the keys of m in sorted order, for deterministic
// suggestions when two candidates have the same edit distance.
func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		if err := buildKeyError(key); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// buildKeyError creates a descriptive error for an unknown key, suggesting
// the closest known key when one is near enough.
func buildKeyError(key toml.Key) error {
	if len(key) == 0 {
		return nil
	}

	if key[0] == sourceTableKey && len(key) > 1 {
		leaf := key[len(key)-1]
		if suggestion := closestMatch(leaf, knownSourceKeysList); suggestion != "" {
			return fmt.Errorf("unknown key %q in [[source]]; did you mean %q?", leaf, suggestion)
		}

		return fmt.Errorf("unknown key %q in [[source]]", leaf)
	}

	fieldName := strings.SplitN(key.String(), ".", 2)[0]

	if suggestion := closestMatch(fieldName, knownGlobalKeysList); suggestion != "" {
		return fmt.Errorf("unknown config key %q; did you mean %q?", fieldName, suggestion)
	}

	return fmt.Errorf("unknown config key %q", fieldName)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings using a
// single-row buffer pair.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
