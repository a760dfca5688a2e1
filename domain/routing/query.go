package routing

// Canonical embedding route names. Operators may configure more routes;
// these two always exist.
const (
	RouteDocs = "docs"
	RouteCode = "code"
)

// QueryRoute is the outcome of classifying text onto an embedding route.
type QueryRoute struct {
	Route      string
	Confidence float64
	Reasons    []string
}

// Router assigns free text to an embedding route. Implementations must be
// pure: no I/O, no retained state.
type Router interface {
	ClassifyQuery(text string) QueryRoute
}
