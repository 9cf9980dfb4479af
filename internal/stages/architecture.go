package stages

import (
	"context"
	"fmt"
	"math"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
)

// Resource ceilings enforced by validation.
const (
	MaxLayers       = 96
	MaxEmbeddingDim = 65536
)

var knownTypes = map[string]bool{
	"transformer": true,
	"cnn":         true,
	"rnn":         true,
	"mlp":         true,
}

// InterpretArchitecture proposes an architecture: a six-layer transformer
// classifier unless the job config overrides type, task, layers, heads or embedding_dim.
func InterpretArchitecture(ctx context.Context, jc core.JobContext) (core.StageOutput, error) {
	cfg := jc.Job.Config

	arch := map[string]any{
		"layers":        6,
		"heads":         8,
		"embedding_dim": 512,
	}
	for _, key := range []string{"layers", "heads", "embedding_dim"} {
		v, ok := cfg[key]
		if !ok {
			continue
		}
		n, ok := toInt(v)
		if !ok {
			return nil, fmt.Errorf("config %s must be an integer, got %v", key, v)
		}
		arch[key] = n
	}

	spec := map[string]any{
		"type":         "transformer",
		"task":         "classification",
		"architecture": arch,
	}
	for _, key := range []string{"type", "task"} {
		if v, ok := cfg[key]; ok {
			s, ok := v.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("config %s must be a non-empty string", key)
			}
			spec[key] = s
		}
	}
	if concepts, ok := jc.Input["concepts"].([]string); ok {
		spec["concepts"] = concepts
	}
	return core.StageOutput{core.SpecKey: spec}, ctx.Err()
}

// ValidateArchitecture checks the proposed architecture against known types and
// resource limits. It reports its verdict under core.ValidKey rather than failing.
func ValidateArchitecture(ctx context.Context, jc core.JobContext) (core.StageOutput, error) {
	spec, err := specFrom(jc.Input)
	if err != nil {
		return nil, err
	}
	problems := CheckArchitecture(spec)
	return core.StageOutput{
		core.ValidKey: len(problems) == 0,
		"problems":    problems,
		core.SpecKey:  spec,
	}, ctx.Err()
}

// CheckArchitecture lists everything wrong with spec; an empty list means valid.
func CheckArchitecture(spec map[string]any) []string {
	problems := make([]string, 0)

	typ, _ := spec["type"].(string)
	if !knownTypes[typ] {
		problems = append(problems, fmt.Sprintf("unknown architecture type %q", typ))
	}
	arch, _ := spec["architecture"].(map[string]any)
	if arch == nil {
		return append(problems, "architecture is missing")
	}

	layers, ok := toInt(arch["layers"])
	switch {
	case !ok || layers <= 0:
		problems = append(problems, "layers must be a positive integer")
	case layers > MaxLayers:
		problems = append(problems, fmt.Sprintf("layers %d exceeds the limit of %d", layers, MaxLayers))
	}

	if typ == "transformer" {
		heads, hok := toInt(arch["heads"])
		dim, dok := toInt(arch["embedding_dim"])
		switch {
		case !hok || heads <= 0:
			problems = append(problems, "heads must be a positive integer")
		case !dok || dim <= 0:
			problems = append(problems, "embedding_dim must be a positive integer")
		case dim > MaxEmbeddingDim:
			problems = append(problems, fmt.Sprintf("embedding_dim %d exceeds the limit of %d", dim, MaxEmbeddingDim))
		case dim%heads != 0:
			problems = append(problems, fmt.Sprintf("embedding_dim %d is not divisible by heads %d", dim, heads))
		}
	}
	return problems
}

// BuildModel records the model configuration that would be instantiated.
func BuildModel(ctx context.Context, jc core.JobContext) (core.StageOutput, error) {
	spec, err := specFrom(jc.Input)
	if err != nil {
		return nil, err
	}
	out := core.StageOutput{
		core.SpecKey:   spec,
		"status":       "built",
		"model_config": spec,
	}
	if n, ok := EstimateParameters(spec); ok {
		out["estimated_parameters"] = n
	}
	return out, ctx.Err()
}

// EstimateParameters approximates a transformer's size as 12 * layers * dim^2.
// It reports false when the estimate does not fit in an int64.
func EstimateParameters(spec map[string]any) (int64, bool) {
	if spec["type"] != "transformer" {
		return 0, false
	}
	arch, _ := spec["architecture"].(map[string]any)
	layers, lok := toInt(arch["layers"])
	dim, dok := toInt(arch["embedding_dim"])
	if !lok || !dok {
		return 0, false
	}
	l, d := int64(layers), int64(dim)
	if l <= 0 || d <= 0 || l > math.MaxInt64/12 {
		return 0, false
	}
	if limit := math.MaxInt64 / (12 * l); d > limit/d {
		return 0, false
	}
	return 12 * l * d * d, true
}
