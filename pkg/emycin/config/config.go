// Package config loads knowledge-base declarations from YAML files. The
// loader only maps the file onto declarations; all semantic validation
// happens in kb.Builder so there is one source of declaration errors.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gene-999/emycin/pkg/emycin/internalerr"
	"github.com/gene-999/emycin/pkg/emycin/kb"
)

// File is the YAML shape of a knowledge base.
type File struct {
	Name       string     `yaml:"name"`
	Contexts   []ContextY `yaml:"contexts"`
	Parameters []ParamY   `yaml:"parameters"`
	Rules      []RuleY    `yaml:"rules"`
}

// ContextY declares a context.
type ContextY struct {
	Name        string   `yaml:"name"`
	InitialData []string `yaml:"initial-data"`
	Goals       []string `yaml:"goals"`
	Multi       bool     `yaml:"multi"`
}

// ParamY declares a parameter. Type is one of enum, string, int, bool;
// askable defaults to true.
type ParamY struct {
	Name     string   `yaml:"name"`
	Context  string   `yaml:"context"`
	Type     string   `yaml:"type"`
	Values   []string `yaml:"values"`
	Askable  *bool    `yaml:"askable"`
	AskFirst bool     `yaml:"ask-first"`
	Priority int      `yaml:"priority"`
}

// RuleY declares a rule.
type RuleY struct {
	ID   int       `yaml:"id"`
	CF   float64   `yaml:"cf"`
	If   []ClauseY `yaml:"if"`
	Then []ClauseY `yaml:"then"`
}

// ClauseY declares one condition or conclusion. Op defaults to eq and is
// ignored for conclusions.
type ClauseY struct {
	Param   string `yaml:"param"`
	Context string `yaml:"context"`
	Op      string `yaml:"op"`
	Value   string `yaml:"value"`
}

// Load reads and builds a knowledge base from a YAML file.
func Load(path string) (*kb.KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse builds a knowledge base from YAML bytes.
func Parse(data []byte) (*kb.KnowledgeBase, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrDeclaration, err)
	}

	b := kb.NewBuilder(f.Name)

	for _, c := range f.Contexts {
		b.AddContext(&kb.Context{
			Name:        c.Name,
			InitialData: c.InitialData,
			Goals:       c.Goals,
			Multi:       c.Multi,
		})
	}

	for _, p := range f.Parameters {
		domain, err := parseDomain(p)
		if err != nil {
			return nil, err
		}
		askable := true
		if p.Askable != nil {
			askable = *p.Askable
		}
		b.AddParameter(&kb.Parameter{
			Name:     p.Name,
			Context:  p.Context,
			Domain:   domain,
			Askable:  askable,
			AskFirst: p.AskFirst,
			Priority: p.Priority,
		})
	}

	for _, r := range f.Rules {
		premises, err := parseClauses(r.If, false)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", r.ID, err)
		}
		conclusions, err := parseClauses(r.Then, true)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", r.ID, err)
		}
		b.AddRule(&kb.Rule{
			ID:          r.ID,
			Premises:    premises,
			Conclusions: conclusions,
			CF:          r.CF,
		})
	}

	return b.Build()
}

func parseDomain(p ParamY) (kb.Domain, error) {
	switch p.Type {
	case "", "enum":
		if len(p.Values) == 0 {
			return kb.Domain{}, fmt.Errorf("%w: parameter %q has no values",
				internalerr.ErrDeclaration, p.Name)
		}
		return kb.EnumDomain(p.Values...), nil
	case "string":
		return kb.Domain{Kind: kb.DomainString}, nil
	case "int":
		return kb.Domain{Kind: kb.DomainInt}, nil
	case "bool":
		return kb.Domain{Kind: kb.DomainBool}, nil
	}
	return kb.Domain{}, fmt.Errorf("%w: parameter %q has unknown type %q",
		internalerr.ErrDeclaration, p.Name, p.Type)
}

func parseClauses(clauses []ClauseY, conclusion bool) ([]kb.Clause, error) {
	out := make([]kb.Clause, 0, len(clauses))
	for _, c := range clauses {
		op := kb.OpEq
		if !conclusion {
			var err error
			if op, err = kb.ParseOp(c.Op); err != nil {
				return nil, err
			}
		}
		out = append(out, kb.Clause{
			Param:   c.Param,
			Context: c.Context,
			Op:      op,
			Value:   c.Value,
		})
	}
	return out, nil
}
