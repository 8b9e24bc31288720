// Package referrer is used for responses from the referrers API.
package referrer

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/regmirror/regmirror/types"
	"github.com/regmirror/regmirror/types/errs"
)

// List is the response format of the referrers API, descriptors whose
// subject field points at the queried digest.
type List struct {
	Referrers []types.Descriptor `json:"referrers"`
}

// Unmarshal decodes a referrers API response body.
func (l *List) Unmarshal(body []byte) error {
	if err := json.Unmarshal(body, l); err != nil {
		return fmt.Errorf("decoding referrers response: %w: %v", errs.ErrParsingFailed, err)
	}
	return nil
}

// Sorted returns the referrers ordered by digest string. The registry does
// not define an order for referrers of the same artifact type, sorting keeps
// candidate selection deterministic.
func (l List) Sorted() []types.Descriptor {
	out := make([]types.Descriptor, len(l.Referrers))
	copy(out, l.Referrers)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Digest < out[j].Digest
	})
	return out
}
