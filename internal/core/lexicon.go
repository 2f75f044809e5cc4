package core

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultLexiconYAML []byte

// Lexicon holds the phrase lists driving the emergency classifier and the
// confirmation detector.  The emergency phrases are grouped by symptom family
// in the YAML file, but matching is over the flattened list.
type Lexicon struct {
	Emergency    []string
	Confirmation []string
}

type lexiconFile struct {
	Emergency    map[string][]string `yaml:"emergency"`
	Confirmation []string            `yaml:"confirmation"`
}

// DefaultLexicon parses the embedded lexicon.  The embedded file is part of
// the build, so a parse failure is a programming error.
func DefaultLexicon() *Lexicon {
	lex, err := parseLexicon(defaultLexiconYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded lexicon is invalid: %v", err))
	}
	return lex
}

// LoadLexicon reads a lexicon from the given YAML file, for deployments that
// need to extend the phrase lists without rebuilding.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lexicon: %w", err)
	}
	lex, err := parseLexicon(data)
	if err != nil {
		return nil, fmt.Errorf("parse lexicon %s: %w", path, err)
	}
	return lex, nil
}

func parseLexicon(data []byte) (*Lexicon, error) {
	var f lexiconFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	lex := &Lexicon{}
	for _, phrases := range f.Emergency {
		for _, p := range phrases {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" {
				lex.Emergency = append(lex.Emergency, p)
			}
		}
	}
	for _, p := range f.Confirmation {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			lex.Confirmation = append(lex.Confirmation, p)
		}
	}

	if len(lex.Emergency) == 0 {
		return nil, fmt.Errorf("lexicon has no emergency phrases")
	}
	if len(lex.Confirmation) == 0 {
		return nil, fmt.Errorf("lexicon has no confirmation phrases")
	}
	return lex, nil
}
