package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// document is the YAML/JSON registry format:
//
//	default: 1.21.1-neoforge
//	shared:
//	  MOD_VERSION: 1.0.0
//	variants:
//	  - 1.20.3-forge
//	  - name: 1.21.1-neoforge
//	    script: build.neoforge.gradle.kts
//	    config:
//	      PACK_FORMAT: "34"
type document struct {
	Default  string            `yaml:"default"`
	Shared   map[string]string `yaml:"shared"`
	Variants []documentVariant `yaml:"variants"`
	Versions []documentVariant `yaml:"versions"`
}

type documentVariant struct {
	Name   string            `yaml:"name"`
	Dir    string            `yaml:"dir,omitempty"`
	Script string            `yaml:"script,omitempty"`
	Config map[string]string `yaml:"config,omitempty"`
}

// UnmarshalYAML accepts both plain names and full variant objects.
func (v *documentVariant) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		v.Name = node.Value
		return nil
	}

	type plain documentVariant
	return node.Decode((*plain)(v))
}

func loadDocument(ctx context.Context, path, projectRoot string) (*loadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "could not open file %s", path)
	}

	var doc document
	// JSON is a subset of YAML so this covers stonecutter.json style files, too
	err = yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("failed to parse %s: %s", path, err)}
	}

	entries := append(doc.Variants, doc.Versions...)
	result := &loadResult{
		variants:    make([]rawVariant, 0, len(entries)),
		shared:      doc.Shared,
		defaultName: doc.Default,
	}

	for _, entry := range entries {
		dir := resolveDir(projectRoot, entry.Dir)
		if dir == "" {
			candidate := filepath.Join(projectRoot, "versions", entry.Name)
			if info, err := os.Stat(candidate); err == nil && info.IsDir() {
				dir = candidate
			}
		}

		raw := rawVariant{
			name:   entry.Name,
			dir:    dir,
			script: resolveDir(projectRoot, entry.Script),
			inline: entry.Config,
		}

		if dir != "" {
			propFile, err := findPropertyFile(dir)
			if err != nil {
				return nil, err
			}

			if propFile != "" {
				raw.file, err = ReadProperties(propFile)
				if err != nil {
					return nil, err
				}
			}

			if raw.script == "" {
				raw.script = detectBuildScript(dir)
			}
		}

		result.variants = append(result.variants, raw)
	}

	return result, nil
}
