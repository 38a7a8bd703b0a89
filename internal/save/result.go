package save

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/tonimelisma/zotero-go/internal/zotero"
)

// WriteResult is the server's reply to a multi-object write. Maps are
// keyed by the item's index in the request.
type WriteResult struct {
	Success   map[string]string       `json:"success"`
	Unchanged map[string]string       `json:"unchanged"`
	Failed    map[string]WriteFailure `json:"failed"`
}

// WriteFailure describes one refused object.
type WriteFailure struct {
	Key     string `json:"key,omitempty"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ParseWriteResponse decodes a write reply.
func ParseWriteResponse(body []byte) (*WriteResult, error) {
	var r WriteResult
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%w: write response: %w", zotero.ErrMalformedResponse, err)
	}

	return &r, nil
}

// Keys returns the keys of created items in request order.
func (r *WriteResult) Keys() []string {
	indexes := make([]string, 0, len(r.Success))
	for idx := range r.Success {
		indexes = append(indexes, idx)
	}

	slices.SortFunc(indexes, compareIndex)

	keys := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		keys = append(keys, r.Success[idx])
	}

	return keys
}

// Err joins the failures, or returns nil when every object was written.
func (r *WriteResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}

	indexes := make([]string, 0, len(r.Failed))
	for idx := range r.Failed {
		indexes = append(indexes, idx)
	}

	slices.SortFunc(indexes, compareIndex)

	errs := make([]error, 0, len(indexes))
	for _, idx := range indexes {
		f := r.Failed[idx]
		errs = append(errs, fmt.Errorf("item %s: %d %s", idx, f.Code, f.Message))
	}

	return errors.Join(errs...)
}

// compareIndex orders numeric index strings numerically.
func compareIndex(a, b string) int {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)

	if aErr == nil && bErr == nil {
		return ai - bi
	}

	return strings.Compare(a, b)
}
