package playback

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/models"
)

// ExportDateLayout formats the export_date field
const ExportDateLayout = "2006-01-02 15:04:05"

// document is the exchange format of a sequence. Older exports carry the
// steps under "messages" and the payload under "data".
type document struct {
	Name       string    `json:"name" yaml:"name"`
	Steps      []rawStep `json:"steps,omitempty" yaml:"steps,omitempty"`
	Messages   []rawStep `json:"messages,omitempty" yaml:"messages,omitempty"`
	ExportDate string    `json:"export_date,omitempty" yaml:"export_date,omitempty"`
}

type rawStep struct {
	ID      string   `json:"id" yaml:"id"`
	Payload string   `json:"payload,omitempty" yaml:"payload,omitempty"`
	Data    string   `json:"data,omitempty" yaml:"data,omitempty"`
	Delay   *float64 `json:"delay,omitempty" yaml:"delay,omitempty"`
}

func (d document) sequence() (models.Sequence, error) {
	raw := d.Steps
	if len(raw) == 0 {
		raw = d.Messages
	}
	if d.Name == "" || len(raw) == 0 {
		return models.Sequence{}, fmt.Errorf("%w: name and steps are required", ErrInvalidSequence)
	}

	seq := models.Sequence{Name: d.Name, Steps: make([]models.Step, 0, len(raw))}
	for _, r := range raw {
		step := models.Step{ID: r.ID, Payload: r.Payload, Delay: DefaultDelay}
		if step.Payload == "" {
			step.Payload = r.Data
		}
		if r.Delay != nil {
			step.Delay = *r.Delay
		}
		seq.Steps = append(seq.Steps, step)
	}
	return seq, nil
}

// Import stores a sequence from its JSON document
func (e *Engine) Import(data []byte) (models.Sequence, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.Sequence{}, fmt.Errorf("%w: %v", ErrInvalidSequence, err)
	}
	return e.importDocument(doc)
}

// ImportYAML stores a sequence from its YAML document
func (e *Engine) ImportYAML(data []byte) (models.Sequence, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return models.Sequence{}, fmt.Errorf("%w: %v", ErrInvalidSequence, err)
	}
	return e.importDocument(doc)
}

func (e *Engine) importDocument(doc document) (models.Sequence, error) {
	seq, err := doc.sequence()
	if err != nil {
		e.logger.Warn("Invalid sequence data format", logging.Error(err))
		return models.Sequence{}, err
	}
	if err := e.CreateSequence(seq.Name, seq.Steps); err != nil {
		return models.Sequence{}, err
	}
	return seq, nil
}

// Export renders the named sequence as an indented JSON document
func (e *Engine) Export(name string) ([]byte, error) {
	seq, err := e.Get(name)
	if err != nil {
		return nil, err
	}

	doc := document{
		Name:       seq.Name,
		Steps:      make([]rawStep, 0, len(seq.Steps)),
		ExportDate: e.opts.Now().Format(ExportDateLayout),
	}
	for _, s := range seq.Steps {
		delay := s.Delay
		doc.Steps = append(doc.Steps, rawStep{ID: s.ID, Payload: s.Payload, Delay: &delay})
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to export sequence %q: %w", name, err)
	}
	return out, nil
}

// ExportFile writes the named sequence to path, creating parent directories
func (e *Engine) ExportFile(name, path string) error {
	out, err := e.Export(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	e.logger.Info("Exported sequence", logging.Sequence(name), logging.Path(path))
	return nil
}

// ImportFile loads one .json, .yaml or .yml sequence file
func (e *Engine) ImportFile(path string) (models.Sequence, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.Sequence{}, fmt.Errorf("failed to read sequence file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return e.ImportYAML(raw)
	default:
		return e.Import(raw)
	}
}

// LoadDir imports every sequence file in dir and returns how many loaded.
// Files that fail to parse are logged and skipped.
func (e *Engine) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if _, err := e.ImportFile(path); err != nil {
			e.logger.Warn("Skipping sequence file", logging.Path(path), logging.Error(err))
			continue
		}
		loaded++
	}

	e.logger.Info("Loaded sequences", logging.Path(dir), logging.Count(loaded))
	return loaded, nil
}
