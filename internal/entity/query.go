package entity

import "net/http"

// ReplayURLParts is a replay path split into its components.
type ReplayURLParts struct {
	Timestamp string
	Modifier  string
	TargetURL string
}

// ReplayQuery is the lookup key sent to an archive store.
type ReplayQuery struct {
	URL       string
	Method    string
	Timestamp string
	Request   *http.Request
}

// RewriteOptions configures a content rewriter for one replayed response.
type RewriteOptions struct {
	URL              string
	Prefix           string
	HeadInsert       func() (string, error)
	DisableJSRewrite bool
	Decode           bool
}
