package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParsePipeline parses YAML content into a PipelineSpec and validates it.
func ParsePipeline(data []byte) (PipelineSpec, error) {
	var spec PipelineSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return PipelineSpec{}, fmt.Errorf("parse pipeline: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return PipelineSpec{}, fmt.Errorf("invalid pipeline: %w", err)
	}
	return spec, nil
}

// LoadPipeline reads a pipeline file. An empty path yields the default pipeline.
func LoadPipeline(path string) (PipelineSpec, error) {
	if path == "" {
		return DefaultPipelineSpec(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return PipelineSpec{}, fmt.Errorf("read pipeline %s: %w", path, err)
	}
	return ParsePipeline(data)
}
