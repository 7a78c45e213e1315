// Package models defines the shared request/response types for search and builds.
package models

// SearchRequest asks for images similar to the one at QueryPath.
type SearchRequest struct {
	QueryPath string `json:"query_path"`
	// K is the number of results to return; 0 or negative means the whole
	// corpus.
	K int `json:"k,omitempty"`
}

// SearchResult is a single ranked hit. Distance is the raw squared L2
// distance used for ordering; Similarity is a per-query display percentage
// normalized over the returned result set and is not an absolute metric.
type SearchResult struct {
	Path       string  `json:"path"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
}

// SearchResponse is the response for a search request. Results are ordered
// by ascending distance (nearest first).
type SearchResponse struct {
	Results     []*SearchResult `json:"results"`
	Total       int             `json:"total"`
	QueryPath   string          `json:"query_path"`
	QueryTimeMs int64           `json:"query_time_ms"`
}

// BuildRequest starts an index rebuild. When All is true every reachable
// volume is scanned and Root is ignored; otherwise Root names the single
// directory to scan.
type BuildRequest struct {
	Root string `json:"root,omitempty"`
	All  bool   `json:"all,omitempty"`
}
