package workflow

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader scans directories for workflow files, parses them, and computes
// SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new workflow Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml, *.yml, and *.json
// files and parses each into a Workflow.
func (l *Loader) LoadAll(directories []string) ([]Workflow, error) {
	var workflows []Workflow

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" && ext != ".json" {
				return nil
			}

			wf, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			workflows = append(workflows, wf)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return workflows, nil
}

// LoadFile loads and parses a single workflow file. JSON parses through
// the YAML decoder since YAML is a superset. The SHA-256 checksum and
// source path are recorded for audit logging.
func (l *Loader) LoadFile(path string) (Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Workflow{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return Workflow{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(wf.Tasks) == 0 {
		return Workflow{}, fmt.Errorf("parsing %s: workflow has no tasks", path)
	}
	if wf.Name == "" {
		wf.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	wf.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	wf.SourceFile = path

	return wf, nil
}
