package stages

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/galileoChr/ai-model-builder-app/internal/storage"
)

var datasetIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// DatasetHandler loads datasets referenced by a job's dataset_id option.
type DatasetHandler struct {
	dir string
}

func NewDatasetHandler(dir string) *DatasetHandler {
	return &DatasetHandler{dir: dir}
}

// Load reads <dir>/<id>.json.
func (h *DatasetHandler) Load(id string) (map[string]any, error) {
	if h.dir == "" {
		return nil, fmt.Errorf("dataset %s: no dataset directory configured", id)
	}
	if !datasetIDPattern.MatchString(id) || id == "." || id == ".." {
		return nil, fmt.Errorf("dataset id %q is invalid", id)
	}
	var data map[string]any
	if err := storage.ReadJSON(filepath.Join(h.dir, id+".json"), &data); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", id, err)
	}
	if err := ValidateDataset(data); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", id, err)
	}
	return data, nil
}

// ValidateDataset requires a non-empty records array.
func ValidateDataset(data map[string]any) error {
	records, ok := data["records"].([]any)
	if !ok {
		return fmt.Errorf("records must be an array")
	}
	if len(records) == 0 {
		return fmt.Errorf("records is empty")
	}
	return nil
}

// PrepareSplits sizes an 80/10/10 train/validation/test split of the records.
func PrepareSplits(data map[string]any) map[string]any {
	records, _ := data["records"].([]any)
	n := len(records)
	validation := n / 10
	test := n / 10
	return map[string]any{
		"train":      n - validation - test,
		"validation": validation,
		"test":       test,
	}
}
