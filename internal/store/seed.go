package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadPromptsFile reads a YAML map of prompt key to prompt content:
//
//	summarize: |
//	  You summarize documents in three sentences.
//	translate_ko: Translate the user's text into Korean.
func LoadPromptsFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompts file: %w", err)
	}

	prompts := map[string]string{}
	if err := yaml.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("parsing prompts file %s: %w", path, err)
	}
	return prompts, nil
}
