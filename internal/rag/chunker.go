package rag

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
)

// Chunker splits text into overlapping fixed-size windows measured in runes.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if err := validateWindow(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Split(text string) []string {
	return splitRunes([]rune(text), c.size, c.overlap)
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// ChunkText windows text by size runes, advancing size-overlap runes each step.
// The last window may be shorter; empty text yields no chunks.
func ChunkText(text string, size, overlap int) ([]string, error) {
	if err := validateWindow(size, overlap); err != nil {
		return nil, err
	}
	return splitRunes([]rune(text), size, overlap), nil
}

func validateWindow(size, overlap int) error {
	if size <= 0 {
		return &InvalidConfigError{Field: "chunk_size", Reason: "must be positive"}
	}
	if overlap < 0 {
		return &InvalidConfigError{Field: "chunk_overlap", Reason: "must not be negative"}
	}
	if overlap >= size {
		return &InvalidConfigError{Field: "chunk_overlap", Reason: "must be smaller than chunk_size"}
	}
	return nil
}

func splitRunes(runes []rune, size, overlap int) []string {
	if len(runes) == 0 {
		return nil
	}
	step := size - overlap
	chunks := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
