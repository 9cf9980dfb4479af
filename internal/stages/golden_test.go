package stages

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
)

// runThrough chains the named stages the way the runner does and returns the last output.
func runThrough(t *testing.T, job core.Job, names ...string) core.StageOutput {
	t.Helper()
	registry := Registry(Options{DatasetDir: t.TempDir()})
	jc := core.JobContext{Job: job, Input: core.StageOutput{}, Outputs: map[string]core.StageOutput{}}
	var out core.StageOutput
	for _, name := range names {
		var err error
		out, err = registry[name](context.Background(), jc)
		require.NoError(t, err, name)
		jc.Outputs[name] = out
		jc.Input = out
	}
	return out
}

func TestStageOutputsGolden(t *testing.T) {
	cases := []struct {
		name   string
		config map[string]any
		stages []string
	}{
		{
			name:   "build_four_layers",
			config: map[string]any{"layers": float64(4)},
			stages: []string{
				core.StageKnowledgeExtraction,
				core.StageArchitectureInterpretation,
				core.StageArchitectureValidation,
				core.StageModelConstruction,
			},
		},
		{
			name:   "validate_uneven_heads",
			config: map[string]any{"heads": float64(7)},
			stages: []string{
				core.StageKnowledgeExtraction,
				core.StageArchitectureInterpretation,
				core.StageArchitectureValidation,
			},
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			job := core.Job{ID: "model_golden", Prompt: "Build me a sentiment classifier for product reviews", Config: tc.config}
			out := runThrough(t, job, tc.stages...)
			data, err := json.MarshalIndent(out, "", "  ")
			require.NoError(t, err)
			g.Assert(t, tc.name, append(data, '\n'))
		})
	}
}
