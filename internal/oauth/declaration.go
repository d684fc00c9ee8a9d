package oauth

// Declaration defines the OAuth contract a plugin must provide.
type Declaration struct {
	Provider     string
	AuthorizeURL string
	TokenURL     string
	Scope        string
	StatePath    string
}
