package request

type SubmitIngestRequest struct {
	Collection string `json:"collection"` // defaults to the first configured collection
	Source     string `json:"source"`     // local path or http(s) URL of a WARC file
	Force      bool   `json:"force"`
}
