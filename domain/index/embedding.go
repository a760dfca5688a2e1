package index

// Embedding is one vector for a span within a specific route table.
type Embedding struct {
	spanHash    string
	vector      []float32
	routeName   string
	profileName string
}

// NewEmbedding creates an embedding. The vector is defensively copied.
func NewEmbedding(spanHash string, vector []float32, routeName, profileName string) Embedding {
	cp := make([]float32, len(vector))
	copy(cp, vector)
	return Embedding{
		spanHash:    spanHash,
		vector:      cp,
		routeName:   routeName,
		profileName: profileName,
	}
}

// SpanHash returns the embedded span's content identity.
func (e Embedding) SpanHash() string { return e.spanHash }

// Vector returns a defensive copy of the vector.
func (e Embedding) Vector() []float32 {
	cp := make([]float32, len(e.vector))
	copy(cp, e.vector)
	return cp
}

// Dimension returns the vector length.
func (e Embedding) Dimension() int { return len(e.vector) }

// RouteName returns the route the vector belongs to.
func (e Embedding) RouteName() string { return e.routeName }

// ProfileName returns the embedding profile that produced the vector.
func (e Embedding) ProfileName() string { return e.profileName }
