package definition

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a definition file
type File struct {
	Messages []MessageDefinition `yaml:"messages"`
}

// LoadFile reads and validates message definitions from a YAML file
func LoadFile(path string) ([]MessageDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates YAML message definitions
func Parse(raw []byte) ([]MessageDefinition, error) {
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse definitions: %w", err)
	}

	seen := make(map[uint32]string, len(file.Messages))
	for i := range file.Messages {
		msg := &file.Messages[i]
		if err := msg.Validate(); err != nil {
			return nil, err
		}
		if other, ok := seen[msg.ID]; ok {
			return nil, fmt.Errorf("duplicate message id 0x%X (%s, %s)", msg.ID, other, msg.Name)
		}
		seen[msg.ID] = msg.Name
	}

	return file.Messages, nil
}
