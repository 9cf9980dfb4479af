package stages

import (
	"context"
	"strings"
	"unicode"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true, "build": true,
	"by": true, "can": true, "create": true, "for": true, "from": true, "i": true, "in": true, "into": true,
	"is": true, "it": true, "make": true, "me": true, "model": true, "need": true, "of": true, "on": true,
	"or": true, "please": true, "that": true, "the": true, "this": true, "to": true, "want": true,
	"we": true, "which": true, "with": true, "would": true,
}

// KnowledgeProcessor turns the prompt into concepts and a concept graph.
// Embedding generation is not implemented and is reported as such.
type KnowledgeProcessor struct {
	datasets *DatasetHandler
}

func NewKnowledgeProcessor(datasets *DatasetHandler) *KnowledgeProcessor {
	return &KnowledgeProcessor{datasets: datasets}
}

func (k *KnowledgeProcessor) Run(ctx context.Context, jc core.JobContext) (core.StageOutput, error) {
	concepts := ExtractConcepts(jc.Job.Prompt)
	out := core.StageOutput{
		"concepts":               concepts,
		"knowledge_graph":        BuildKnowledgeGraph(concepts),
		"embeddings":             []float64{},
		"embeddings_implemented": false,
	}

	if id, _ := jc.Job.Config["dataset_id"].(string); id != "" {
		data, err := k.datasets.Load(id)
		if err != nil {
			return nil, err
		}
		out["dataset"] = map[string]any{
			"id":     id,
			"splits": PrepareSplits(data),
		}
	}
	return out, ctx.Err()
}

// ExtractConcepts returns the distinct lower-cased keywords of text in order of
// first appearance, without stop words or tokens shorter than three characters.
func ExtractConcepts(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	seen := make(map[string]bool, len(words))
	concepts := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, "-")
		if len(w) < 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		concepts = append(concepts, w)
	}
	return concepts
}

// BuildKnowledgeGraph links each concept to the one that follows it.
func BuildKnowledgeGraph(concepts []string) map[string]any {
	edges := make([][2]string, 0, len(concepts))
	for i := 1; i < len(concepts); i++ {
		edges = append(edges, [2]string{concepts[i-1], concepts[i]})
	}
	return map[string]any{
		"nodes": concepts,
		"edges": edges,
	}
}
