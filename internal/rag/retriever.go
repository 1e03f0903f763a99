package rag

const DefaultTopK = 3

type Retriever struct {
	newIndex func() VectorIndex
}

type RetrieverOption func(*Retriever)

// WithIndex swaps the index implementation built for each query.
func WithIndex(factory func() VectorIndex) RetrieverOption {
	return func(r *Retriever) {
		if factory != nil {
			r.newIndex = factory
		}
	}
}

func NewRetriever(opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		newIndex: func() VectorIndex { return NewBruteForceIndex() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve ranks candidates against query and returns at most k of them.
// Candidates must already be scoped to the caller; a candidate whose
// dimension differs from the query aborts the whole call.
func (r *Retriever) Retrieve(query []float32, candidates []Chunk, k int) ([]ScoredChunk, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	idx := r.newIndex()
	if err := idx.Build(candidates); err != nil {
		return nil, err
	}
	return idx.Query(query, k)
}
