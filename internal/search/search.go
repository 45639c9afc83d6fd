package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultFeature  ResultType = "feature"
	ResultPlanning ResultType = "planning"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId"`
	Status    string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterProjectID string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexFeature(f FeatureRecord) error
	IndexPlanning(p PlanningRecord) error
	DeleteFeature(id string) error
	DeletePlanning(id string) error
}

// FeatureRecord is the data we index for a feature.
type FeatureRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	ProjectID string `json:"projectId"`
	Status    string `json:"status"`
}

// PlanningRecord is the data we index for a planning.
type PlanningRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	ProjectID string `json:"projectId"`
	Status    string `json:"status"`
}
