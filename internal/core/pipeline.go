package core

import (
	"context"
	"fmt"
)

// Stage names of the model-build pipeline.
const (
	StageKnowledgeExtraction        = "knowledge-extraction"
	StageArchitectureInterpretation = "architecture-interpretation"
	StageArchitectureValidation     = "architecture-validation"
	StageModelConstruction          = "model-construction"
)

// Output keys the runner reads from stage outputs.
const (
	// ValidKey holds the boolean verdict of a gate stage.
	ValidKey = "valid"
	// SpecKey holds the architecture specification in the final stage output.
	SpecKey = "architecture_spec"
)

// StageOutput is the result of one stage, handed to the next.
type StageOutput map[string]any

// JobContext is what a stage sees: the job, the previous stage output, and
// every earlier output keyed by stage name.
type JobContext struct {
	Job     Job
	Input   StageOutput
	Outputs map[string]StageOutput
}

// StageFunc is the collaborator contract for one stage.
type StageFunc func(ctx context.Context, jc JobContext) (StageOutput, error)

// Stage is one bound step of the pipeline.
type Stage struct {
	Name       string
	Checkpoint float64
	// Gate stages must report ValidKey=true or the run fails with ErrInvalidArchitecture.
	Gate bool
	Run  StageFunc
}

// Pipeline is the ordered list of stages the runner executes.
// Stages run sequentially (stage1 --> stage2 --> stage3).
type Pipeline struct {
	Stages []Stage
}

// StageSpec declares one stage in a pipeline file.
type StageSpec struct {
	Name       string  `yaml:"name"`
	Checkpoint float64 `yaml:"checkpoint"`
	Gate       bool    `yaml:"gate,omitempty"`
	// NotImplemented binds the stage to NotImplemented instead of the registry.
	NotImplemented bool `yaml:"not_implemented,omitempty"`
}

// PipelineSpec is the declarative form of a Pipeline, loaded from YAML.
type PipelineSpec struct {
	Stages []StageSpec `yaml:"stages"`
}

// DefaultPipelineSpec is the four-stage model build with fixed checkpoints.
func DefaultPipelineSpec() PipelineSpec {
	return PipelineSpec{
		Stages: []StageSpec{
			{Name: StageKnowledgeExtraction, Checkpoint: 0.2},
			{Name: StageArchitectureInterpretation, Checkpoint: 0.4},
			{Name: StageArchitectureValidation, Checkpoint: 0.8, Gate: true},
			{Name: StageModelConstruction, Checkpoint: 1.0},
		},
	}
}

// Validate checks stage names are unique and checkpoints strictly increase up to exactly 1.0.
func (p PipelineSpec) Validate() error {
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline has no stages")
	}
	seen := make(map[string]bool, len(p.Stages))
	prev := 0.0
	for i, s := range p.Stages {
		if s.Name == "" {
			return fmt.Errorf("stage %d has no name", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage %q", s.Name)
		}
		seen[s.Name] = true
		if s.Checkpoint <= prev || s.Checkpoint > 1.0 {
			return fmt.Errorf("stage %q checkpoint %.2f must be in (%.2f, 1.0]", s.Name, s.Checkpoint, prev)
		}
		prev = s.Checkpoint
	}
	if last := p.Stages[len(p.Stages)-1]; last.Checkpoint != 1.0 {
		return fmt.Errorf("last stage %q must end at checkpoint 1.0, got %.2f", last.Name, last.Checkpoint)
	}
	return nil
}

// Bind resolves each declared stage to an implementation from registry.
func (p PipelineSpec) Bind(registry map[string]StageFunc) (Pipeline, error) {
	if err := p.Validate(); err != nil {
		return Pipeline{}, err
	}
	stages := make([]Stage, 0, len(p.Stages))
	for _, s := range p.Stages {
		fn, ok := registry[s.Name]
		if s.NotImplemented {
			fn, ok = NotImplemented(), true
		}
		if !ok {
			return Pipeline{}, fmt.Errorf("no implementation for stage %q", s.Name)
		}
		stages = append(stages, Stage{
			Name:       s.Name,
			Checkpoint: s.Checkpoint,
			Gate:       s.Gate,
			Run:        fn,
		})
	}
	return Pipeline{Stages: stages}, nil
}

// NotImplemented is the stage variant for collaborators that do not exist yet.
// It fails with ErrNotImplemented instead of passing placeholder data along.
func NotImplemented() StageFunc {
	return func(context.Context, JobContext) (StageOutput, error) {
		return nil, ErrNotImplemented
	}
}
