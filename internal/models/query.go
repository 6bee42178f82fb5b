package models

// Hit is one nearest-neighbour match
type Hit struct {
	ID       string
	Distance float32
	Unit     ContentUnit
}

// QueryResult holds hits ordered nearest first. The parallel views below
// always have equal length because they are derived from the same slice.
type QueryResult struct {
	Hits []Hit
}

func (r QueryResult) Len() int { return len(r.Hits) }

func (r QueryResult) IDs() []string {
	out := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		out[i] = h.ID
	}
	return out
}

func (r QueryResult) Distances() []float32 {
	out := make([]float32, len(r.Hits))
	for i, h := range r.Hits {
		out[i] = h.Distance
	}
	return out
}

func (r QueryResult) Documents() []string {
	out := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		out[i] = h.Unit.Content()
	}
	return out
}

func (r QueryResult) Metadatas() []map[string]string {
	out := make([]map[string]string, len(r.Hits))
	for i, h := range r.Hits {
		out[i] = Metadata(h.Unit)
	}
	return out
}

type PromptResponse struct {
	Query   string
	Source  string
	Content string
}
