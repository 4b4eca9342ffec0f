// Package fingerprint derives a deterministic digest identifying a
// cacheable, semantically-equivalent search query.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/journeyon/kbsearch/internal/domain/search/filter"
)

// canonical is the digest input. Compiled filter conditions are already
// sorted by field, and struct field order is fixed, so marshaling is
// deterministic.
type canonical struct {
	Identity string      `json:"identity"`
	Query    string      `json:"query"`
	TopK     int         `json:"top_k"`
	Rerank   bool        `json:"rerank"`
	Filters  []condition `json:"filters"`
}

type condition struct {
	Field  string `json:"field"`
	Op     string `json:"op"`
	Values []any  `json:"values"`
}

// Normalize canonicalizes query text: trim, case-fold, collapse internal whitespace.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Compute derives the fingerprint of a search query. Requests that are
// semantically identical under (normalized query, top_k, rerank, compiled
// filter, identity) produce the same fingerprint.
func Compute(identity, query string, topK int, rerank bool, f filter.Filter) string {
	conds := f.Conditions()
	canon := canonical{
		Identity: identity,
		Query:    Normalize(query),
		TopK:     topK,
		Rerank:   rerank,
		Filters:  make([]condition, len(conds)),
	}
	for i, c := range conds {
		canon.Filters[i] = condition{
			Field:  c.Field(),
			Op:     string(c.Operator()),
			Values: c.Values(),
		}
	}

	// Marshal cannot fail: the canonical form holds only JSON scalars.
	data, _ := json.Marshal(canon)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
