package streamable

import "net/http"

// Location describes where the session id travels on the HTTP surface.
type Location struct {
	Name string
	Kind string
}

// NewHeaderLocation creates a header-borne session id location.
func NewHeaderLocation(name string) *Location {
	return &Location{Name: name, Kind: "header"}
}

// NewQueryLocation creates a query-parameter session id location.
func NewQueryLocation(name string) *Location {
	return &Location{Name: name, Kind: "query"}
}

// Locate extracts the session id from the request; header locations fall back
// to the query parameter of the same name for debug convenience.
func (l *Location) Locate(r *http.Request) string {
	switch l.Kind {
	case "query":
		return r.URL.Query().Get(l.Name)
	default:
		if value := r.Header.Get(l.Name); value != "" {
			return value
		}
		return r.URL.Query().Get(l.Name)
	}
}
