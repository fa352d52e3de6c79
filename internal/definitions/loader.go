// Package definitions reads workflow definitions authored as YAML files.
package definitions

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"agent-orchestrator/backend/pkg/models"
)

// DefaultDir is the conventional location of workflow definition files.
const DefaultDir = "workflows"

// ParseDefinitionYAML decodes a workflow definition from YAML (or JSON) bytes.
// Steps are ordered by sequence. Step ids are kept as written so edges can
// refer to them; steps without one get an id when the workflow is stored.
func ParseDefinitionYAML(data []byte) (*models.Workflow, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: definition payload is empty", models.ErrValidation)
	}
	var wf models.Workflow
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&wf); err != nil {
		return nil, fmt.Errorf("%w: decode definition: %v", models.ErrValidation, err)
	}
	wf.SortSteps()
	return &wf, nil
}

// LoadDefinitionReader reads workflow definition data from an io.Reader.
func LoadDefinitionReader(r io.Reader) (*models.Workflow, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	return ParseDefinitionYAML(content)
}

// LoadDefinitionFile loads a workflow definition from an explicit file path.
func LoadDefinitionFile(path string) (*models.Workflow, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	wf, err := ParseDefinitionYAML(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// LoadDir loads every .yaml / .yml file in dir, in file name order.
func LoadDir(dir string) ([]*models.Workflow, error) {
	if dir == "" {
		dir = DefaultDir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]*models.Workflow, 0, len(names))
	for _, name := range names {
		wf, err := LoadDefinitionFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}
