package result

import "sort"

// Entry is a single ranked knowledge entry.
type Entry struct {
	id          int64
	title       string
	similarity  float64
	rerankScore *float64
}

// New creates a ranked entry ordered by similarity.
func New(id int64, title string, similarity float64) Entry {
	return Entry{id: id, title: title, similarity: similarity}
}

// Reconstruct restores an entry from storage, including an optional rerank score.
func Reconstruct(id int64, title string, similarity float64, rerankScore *float64) Entry {
	return Entry{id: id, title: title, similarity: similarity, rerankScore: rerankScore}
}

// ID returns the knowledge entry identifier.
func (e Entry) ID() int64 { return e.id }

// Title returns the entry title.
func (e Entry) Title() string { return e.title }

// Similarity returns the vector similarity score.
func (e Entry) Similarity() float64 { return e.similarity }

// RerankScore returns the cross-encoder score, nil when reranking was not applied.
func (e Entry) RerankScore() *float64 { return e.rerankScore }

// WithRerankScore returns a copy of the entry carrying a rerank score.
func (e Entry) WithRerankScore(score float64) Entry {
	e.rerankScore = &score
	return e
}

// SortBySimilarity orders entries by similarity descending,
// ties broken by ascending entry id for determinism.
func SortBySimilarity(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].similarity != entries[j].similarity {
			return entries[i].similarity > entries[j].similarity
		}
		return entries[i].id < entries[j].id
	})
}

// SortByRerank orders entries by rerank score descending, ties broken by
// ascending entry id. Entries without a rerank score sort last.
func SortByRerank(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		si, sj := entries[i].rerankScore, entries[j].rerankScore
		switch {
		case si == nil && sj == nil:
			return entries[i].id < entries[j].id
		case si == nil:
			return false
		case sj == nil:
			return true
		case *si != *sj:
			return *si > *sj
		default:
			return entries[i].id < entries[j].id
		}
	})
}
