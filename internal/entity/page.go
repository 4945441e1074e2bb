package entity

// Page is a top-level captured page listed by a collection.
type Page struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Date  string `json:"date"` // ISO-8601
	Title string `json:"title"`
}
