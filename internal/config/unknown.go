package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys maps each TOML table to the keys it accepts.
var knownKeys = map[string][]string{
	"api":       {"base_url", "stream_url"},
	"oauth":     {"access_url", "app_name", "authorize_url", "callback_addr", "client_key", "client_secret", "request_url"},
	"storage":   {"backend", "state_dir"},
	"transfers": {"bandwidth_limit", "discovery_concurrency", "max_attachment_size"},
	"logging":   {"log_format", "log_level"},
	"network":   {"connect_timeout", "data_timeout", "requests_per_second", "user_agent"},
}

// knownTables is the sorted list of table names for Levenshtein matching.
var knownTables = func() []string {
	tables := make([]string, 0, len(knownKeys))
	for t := range knownKeys {
		tables = append(tables, t)
	}

	sort.Strings(tables)

	return tables
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	seen := make(map[string]bool)

	for _, key := range md.Undecoded() {
		err := unknownKeyError(key)
		if err == nil || seen[err.Error()] {
			continue
		}

		seen[err.Error()] = true
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key, suggesting the closest
// known table or key.
func unknownKeyError(key toml.Key) error {
	table := key[0]

	keys, ok := knownKeys[table]
	if !ok {
		if suggestion := closestMatch(table, knownTables); suggestion != "" {
			return fmt.Errorf("unknown config table [%s]; did you mean [%s]?", table, suggestion)
		}

		if len(key) == 1 {
			if suggestion := qualifiedMatch(table); suggestion != "" {
				return fmt.Errorf("unknown config key %q; did you mean %q?", table, suggestion)
			}

			return fmt.Errorf("unknown config key %q", table)
		}

		return fmt.Errorf("unknown config table [%s]", table)
	}

	if len(key) < 2 {
		return nil
	}

	field := key[1]
	if suggestion := closestMatch(field, keys); suggestion != "" {
		return fmt.Errorf("unknown key %q in [%s]; did you mean %q?", field, table, suggestion)
	}

	return fmt.Errorf("unknown key %q in [%s]", field, table)
}

// qualifiedMatch finds the closest key in any table for a key written at
// the top level, returning it as "table.key".
func qualifiedMatch(name string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, table := range knownTables {
		for _, k := range knownKeys[table] {
			if d := levenshtein(name, k); d < bestDist {
				bestDist = d
				best = table + "." + k
			}
		}
	}

	return best
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

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
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

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
