package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
}

// Query describes a search request. OwnerID is mandatory: results never
// cross owner boundaries.
type Query struct {
	OwnerID    string
	Text       string
	FilterKind string // content kind (chapter, scene, ...); empty = all
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// NodeRecord is the data we index for a document node. Folders are not
// indexed; they carry no prose.
type NodeRecord struct {
	ID       string `json:"id"`
	OwnerID  string `json:"ownerId"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Synopsis string `json:"synopsis"`
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
}
