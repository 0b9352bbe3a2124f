package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultVersion  ResultType = "version"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId"`
	CreatedBy  string     `json:"createdBy,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterType       ResultType // empty = all types
	FilterDocumentID string
	Limit            int
	Offset           int
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
	IndexDocument(doc DocumentRecord) error
	IndexVersion(v VersionRecord) error
	DeleteDocument(id string) error
}

// DocumentRecord is the data we index for a document.
type DocumentRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	UpdatedBy string `json:"updatedBy"`
}

// VersionRecord is the data we index for a saved version.
type VersionRecord struct {
	ID             string `json:"id"`
	DocumentID     string `json:"documentId"`
	VersionNumber  int    `json:"versionNumber"`
	ContentPreview string `json:"contentPreview"`
	Description    string `json:"description"`
	CreatedBy      string `json:"createdBy"`
}
