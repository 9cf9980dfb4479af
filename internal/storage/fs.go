package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/galileoChr/ai-model-builder-app/internal/core"
)

const tmpPrefix = ".modelforge-tmp-"

var validIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// checkID rejects ids that could escape the data directory. They cannot name
// any stored job, so they are reported as not found.
func checkID(id string) error {
	if !validIDPattern.MatchString(id) {
		return fmt.Errorf("job %q: %w", id, core.ErrNotFound)
	}
	return nil
}

func mkdir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// writeTemp writes data to a synced temp file next to path and returns its name.
func writeTemp(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := mkdir(dir); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("chmod temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file for %s: %w", path, err)
	}
	return tmpPath, nil
}

// WriteBytes replaces path atomically: readers see the old or the new content, never a mix.
func WriteBytes(path string, data []byte) error {
	tmpPath, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}

// CreateBytes is WriteBytes that refuses to replace an existing file.
func CreateBytes(path string, data []byte) error {
	tmpPath, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)
	if err := os.Link(tmpPath, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", path, core.ErrAlreadyExists)
		}
		return fmt.Errorf("link %s: %w", path, err)
	}
	return nil
}

func marshalJSON(path string, v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal JSON for %s: %w", path, err)
	}
	return append(data, '\n'), nil
}

func WriteJSON(path string, v any) error {
	data, err := marshalJSON(path, v)
	if err != nil {
		return err
	}
	return WriteBytes(path, data)
}

func CreateJSON(path string, v any) error {
	data, err := marshalJSON(path, v)
	if err != nil {
		return err
	}
	return CreateBytes(path, data)
}

// ReadJSON decodes path into v; a missing file is core.ErrNotFound.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read file %s: %w", path, core.ErrNotFound)
		}
		return fmt.Errorf("read file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse JSON %s: %w", path, err)
	}
	return nil
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, tmpPrefix)
}
