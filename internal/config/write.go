package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// sectionComments annotate the top-level keys of a generated file.
var sectionComments = map[string]string{
	"log_level":      "Log level: debug, info, warn or error",
	"layouts_dir":    "Directory of sheet layout YAML files; empty uses the built-in layout",
	"default_layout": "Layout used when a request names none",
	"keys_dir":       "Directory of answer keys (YAML, JSON or CSV); empty uses the demo key of each layout",
	"pipeline":       "Grading thresholds. Fill weights must sum to 1",
	"output":         "Output format: text, json, jsonl or csv",
	"server":         "HTTP server for `omr serve`",
	"batch":          "Batch grading for `omr batch`",
	"storage":        "Result sinks. Any combination of file, postgres and s3 may be enabled",
}

// Marshal renders cfg as YAML with section comments.
func Marshal(cfg Config) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if doc.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(doc.Content); i += 2 {
			if c, ok := sectionComments[doc.Content[i].Value]; ok {
				doc.Content[i].HeadComment = c
			}
		}
	}
	var buf bytes.Buffer
	buf.WriteString("# omr configuration\n# Every key can be overridden with an OMR_ environment variable, e.g. OMR_SERVER_PORT.\n\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GenerateDefaultConfigFile writes the default configuration to filename.
// An existing file is only replaced when overwrite is set.
func GenerateDefaultConfigFile(filename string, overwrite bool) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	if !overwrite {
		if _, err := os.Stat(filename); err == nil {
			return fmt.Errorf("config file already exists: %s", filename)
		}
	}
	data, err := Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}
