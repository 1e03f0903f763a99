package rag

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
)

const (
	ExtractiveModelName = "extractive"

	NoRelevantInfoAnswer = "I couldn't find any relevant information in your uploaded documents. " +
		"Please make sure you've uploaded PDFs related to this topic."

	systemPrompt = "You are a dermatology assistant. Answer the question based ONLY on the provided context. " +
		"If the context does not contain relevant information, say so. Do not make up facts."

	maxExtractiveSentences = 3
	minSentenceLen         = 20
	summaryPreviewLen      = 300
)

var sentenceSplitPattern = regexp.MustCompile(`[.!?]+`)

var skippedQueryWords = map[string]struct{}{
	"what": {}, "how": {}, "when": {}, "where": {}, "why": {}, "which": {},
	"give": {}, "tell": {}, "show": {},
	"about": {}, "with": {}, "that": {}, "this": {}, "these": {}, "those": {},
	"from": {}, "into": {}, "than": {}, "then": {}, "were": {}, "been": {},
	"being": {}, "should": {}, "will": {}, "does": {}, "have": {},
}

// LLM is a hosted chat model that completes a system + user prompt pair.
type LLM interface {
	Complete(ctx context.Context, system, user string) (string, error)
	ModelName() string
}

type Answer struct {
	Text     string
	Model    string
	Fallback bool
}

// Generator answers a query from retrieved context. Without a model, or
// when the model call fails, it falls back to an extractive answer.
type Generator struct {
	llm LLM
}

func NewGenerator(llm LLM) *Generator {
	return &Generator{llm: llm}
}

// Generate only fails when ctx is done; model errors are absorbed.
func (g *Generator) Generate(ctx context.Context, query, contextText string) (Answer, error) {
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}

	if g.llm != nil {
		raw, err := g.llm.Complete(ctx, systemPrompt, BuildUserPrompt(query, contextText))
		switch {
		case err == nil && strings.TrimSpace(raw) != "":
			return Answer{Text: StripThinking(raw), Model: g.llm.ModelName()}, nil
		case ctx.Err() != nil:
			return Answer{}, ctx.Err()
		case err != nil:
			log.Printf("answer generation failed, using extractive answer: %v", fmt.Errorf("%w: %v", ErrGenerationService, err))
		default:
			log.Printf("answer generation returned empty output, using extractive answer")
		}
	}

	text := StripTags(ExtractiveAnswer(query, contextText))
	if text == "" {
		text = NoClearAnswer
	}
	return Answer{Text: text, Model: ExtractiveModelName, Fallback: true}, nil
}

func BuildUserPrompt(query, contextText string) string {
	return "Context:\n" + contextText + "\n\nQuestion: " + query + "\n\nAnswer:"
}

// ExtractiveAnswer ranks context sentences by how many query keywords they
// contain and lists the best three. With no keyword hits it quotes the first
// two sentences.
func ExtractiveAnswer(query, contextText string) string {
	sentences := splitSentences(contextText)
	if len(sentences) == 0 {
		return summaryAnswer(query, contextText)
	}

	keywords := queryKeywords(query)
	type ranked struct {
		sentence string
		matches  int
	}
	var hits []ranked
	for _, s := range sentences {
		lower := strings.ToLower(s)
		n := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, ranked{sentence: s, matches: n})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].matches > hits[j].matches })

	if len(hits) > 0 {
		if len(hits) > maxExtractiveSentences {
			hits = hits[:maxExtractiveSentences]
		}
		var b strings.Builder
		b.WriteString("Based on your uploaded documents:\n\n")
		for i, h := range hits {
			fmt.Fprintf(&b, "%d. %s.\n", i+1, h.sentence)
		}
		return strings.TrimSpace(b.String())
	}

	lead := sentences
	if len(lead) > 2 {
		lead = lead[:2]
	}
	return "Based on your uploaded documents, here's what I found relevant to your question:\n\n" +
		strings.Join(lead, ". ") + "."
}

// StripTags removes think blocks and stray think tags without any line heuristics.
func StripTags(text string) string {
	text = thinkBlockPattern.ReplaceAllString(text, "")
	text = encodedBlockPattern.ReplaceAllString(text, "")
	text = leftoverTagPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentenceSplitPattern.Split(text, -1) {
		s = strings.TrimSpace(s)
		if len([]rune(s)) > minSentenceLen {
			out = append(out, s)
		}
	}
	return out
}

func queryKeywords(query string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, w := range tokenize(query) {
		if len([]rune(w)) <= 3 {
			continue
		}
		if _, skip := skippedQueryWords[w]; skip {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func summaryAnswer(query, contextText string) string {
	preview := []rune(strings.TrimSpace(contextText))
	if len(preview) > summaryPreviewLen {
		preview = preview[:summaryPreviewLen]
	}
	return fmt.Sprintf("I found relevant information in your documents related to %q. "+
		"Here's a summary of the key points from the context:\n\n%s...\n\n"+
		"For more detailed information, please refer to the specific sections of your uploaded documents.",
		query, string(preview))
}
