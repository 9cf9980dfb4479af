// Package stages holds the model-build collaborators the runner executes:
// knowledge extraction, architecture interpretation, architecture validation
// and model construction.
package stages

import (
	"fmt"
	"math"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
)

// Options configures the stage implementations.
type Options struct {
	// DatasetDir holds <dataset_id>.json files referenced from job config.
	DatasetDir string
}

// Registry maps every pipeline stage name to its implementation.
func Registry(opts Options) map[string]core.StageFunc {
	knowledge := NewKnowledgeProcessor(NewDatasetHandler(opts.DatasetDir))
	return map[string]core.StageFunc{
		core.StageKnowledgeExtraction:        knowledge.Run,
		core.StageArchitectureInterpretation: InterpretArchitecture,
		core.StageArchitectureValidation:     ValidateArchitecture,
		core.StageModelConstruction:          BuildModel,
	}
}

// Pipeline binds spec to the stage implementations.
func Pipeline(spec core.PipelineSpec, opts Options) (core.Pipeline, error) {
	return spec.Bind(Registry(opts))
}

// specFrom pulls the architecture specification out of a stage output.
func specFrom(out core.StageOutput) (map[string]any, error) {
	switch spec := out[core.SpecKey].(type) {
	case map[string]any:
		return spec, nil
	case core.StageOutput:
		return spec, nil
	}
	return nil, fmt.Errorf("input has no %s", core.SpecKey)
}

// toInt accepts the numeric shapes job config arrives in (JSON numbers decode to float64).
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
