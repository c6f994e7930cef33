// Package kb holds the static knowledge model of a consultation: contexts,
// parameters and rules, indexed for backward chaining. A KnowledgeBase is
// immutable once built and safe to share read-only across sessions.
package kb

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gene-999/emycin/pkg/emycin/internalerr"
)

// Context is a type of subject the system reasons about, eg "patient" or
// "organism". InitialData parameters are gathered up front; Goals are the
// parameters a consultation tries to determine.
type Context struct {
	Name        string
	InitialData []string
	Goals       []string

	// Multi allows several live instances of this context in one session.
	// Single-instance contexts are instantiated idempotently.
	Multi bool
}

// Rule is a premise -> conclusions knowledge unit with an attached certainty
// factor. Rules are identified by number for tracing and explanation.
type Rule struct {
	ID          int
	Premises    []Clause
	Conclusions []Clause
	CF          float64
}

// Clause is one condition of a premise or conclusion: a parameter of some
// context, a relational operator and a comparison value. Conclusion clauses
// always use OpEq.
type Clause struct {
	Param   string
	Context string
	Op      Op
	Value   string
}

// String renders a clause the way questions and explanations display it.
func (c Clause) String() string {
	return fmt.Sprintf("%s %s %s %s", c.Param, c.Context, c.Op, c.Value)
}

// String renders the rule in IF/THEN form for the "rule" command.
func (r *Rule) String() string {
	prems := make([]string, len(r.Premises))
	for i, p := range r.Premises {
		prems[i] = p.String()
	}
	concls := make([]string, len(r.Conclusions))
	for i, c := range r.Conclusions {
		concls[i] = c.String()
	}
	return fmt.Sprintf("RULE %d\nIF\n\t%s\nTHEN %f\n\t%s",
		r.ID, strings.Join(prems, "\n\t"), r.CF, strings.Join(concls, "\n\t"))
}

// KnowledgeBase is the read-only lookup structure for a rule set.
type KnowledgeBase struct {
	Name       string
	contexts   map[string]*Context
	ctxOrder   []string
	params     map[string]*Parameter
	paramOrder []string
	rules      []*Rule
	byParam    map[string][]*Rule // conclusion parameter -> candidate rules
}

// ContextNames returns the declared contexts in declaration order.
func (k *KnowledgeBase) ContextNames() []string {
	out := make([]string, len(k.ctxOrder))
	copy(out, k.ctxOrder)
	return out
}

// Context returns the named context.
func (k *KnowledgeBase) Context(name string) (*Context, bool) {
	c, ok := k.contexts[name]
	return c, ok
}

// Param returns the named parameter.
func (k *KnowledgeBase) Param(name string) (*Parameter, bool) {
	p, ok := k.params[name]
	return p, ok
}

// Rules returns the rules that can conclude param, in declaration order.
func (k *KnowledgeBase) Rules(param string) []*Rule {
	return k.byParam[param]
}

// Params returns all parameters in declaration order.
func (k *KnowledgeBase) Params() []*Parameter {
	out := make([]*Parameter, 0, len(k.paramOrder))
	for _, name := range k.paramOrder {
		out = append(out, k.params[name])
	}
	return out
}

// DeclOrder returns the declaration position of a parameter, for question
// ordering. Unknown parameters sort last.
func (k *KnowledgeBase) DeclOrder(param string) int {
	for i, name := range k.paramOrder {
		if name == param {
			return i
		}
	}
	return len(k.paramOrder)
}

// Builder accumulates declarations and validates them into a KnowledgeBase.
type Builder struct {
	name     string
	contexts []*Context
	params   []*Parameter
	rules    []*Rule
}

// NewBuilder creates a builder for a named knowledge base.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// AddContext declares a context.
func (b *Builder) AddContext(c *Context) *Builder {
	b.contexts = append(b.contexts, c)
	return b
}

// AddParameter declares a parameter.
func (b *Builder) AddParameter(p *Parameter) *Builder {
	b.params = append(b.params, p)
	return b
}

// AddRule declares a rule. Rules concluding the same parameter keep their
// declaration order; all of them are evaluated during resolution.
func (b *Builder) AddRule(r *Rule) *Builder {
	b.rules = append(b.rules, r)
	return b
}

// Build validates every declaration and returns the indexed knowledge base.
// Any undeclared reference or circular rule dependency fails the whole build;
// no partial knowledge base is returned.
func (b *Builder) Build() (*KnowledgeBase, error) {
	k := &KnowledgeBase{
		Name:     b.name,
		contexts: make(map[string]*Context, len(b.contexts)),
		params:   make(map[string]*Parameter, len(b.params)),
		byParam:  make(map[string][]*Rule),
		rules:    b.rules,
	}

	for _, c := range b.contexts {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: context with empty name", internalerr.ErrDeclaration)
		}
		if _, dup := k.contexts[c.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate context %q", internalerr.ErrDeclaration, c.Name)
		}
		k.contexts[c.Name] = c
		k.ctxOrder = append(k.ctxOrder, c.Name)
	}

	for _, p := range b.params {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: parameter with empty name", internalerr.ErrDeclaration)
		}
		if _, dup := k.params[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate parameter %q", internalerr.ErrDeclaration, p.Name)
		}
		if _, ok := k.contexts[p.Context]; !ok {
			return nil, fmt.Errorf("%w: parameter %q references undeclared context %q",
				internalerr.ErrDeclaration, p.Name, p.Context)
		}
		k.params[p.Name] = p
		k.paramOrder = append(k.paramOrder, p.Name)
	}

	for _, c := range b.contexts {
		for _, name := range append(append([]string{}, c.InitialData...), c.Goals...) {
			if _, ok := k.params[name]; !ok {
				return nil, fmt.Errorf("%w: context %q lists undeclared parameter %q",
					internalerr.ErrDeclaration, c.Name, name)
			}
		}
	}

	seen := make(map[int]bool, len(b.rules))
	for _, r := range b.rules {
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: duplicate rule %d", internalerr.ErrDeclaration, r.ID)
		}
		seen[r.ID] = true
		for _, cl := range append(append([]Clause{}, r.Premises...), r.Conclusions...) {
			if err := k.checkClause(r, cl); err != nil {
				return nil, err
			}
		}
		for _, concl := range r.Conclusions {
			k.byParam[concl.Param] = append(k.byParam[concl.Param], r)
		}
	}

	if err := k.checkCycles(); err != nil {
		return nil, err
	}

	return k, nil
}

func (k *KnowledgeBase) checkClause(r *Rule, cl Clause) error {
	p, ok := k.params[cl.Param]
	if !ok {
		return fmt.Errorf("%w: rule %d references undeclared parameter %q",
			internalerr.ErrDeclaration, r.ID, cl.Param)
	}
	if _, ok := k.contexts[cl.Context]; !ok {
		return fmt.Errorf("%w: rule %d references undeclared context %q",
			internalerr.ErrDeclaration, r.ID, cl.Context)
	}
	if p.Context != cl.Context {
		return fmt.Errorf("%w: rule %d uses parameter %q with context %q, declared for %q",
			internalerr.ErrDeclaration, r.ID, cl.Param, cl.Context, p.Context)
	}
	return nil
}

// checkCycles walks the parameter dependency graph (conclusion -> premise
// parameters through each rule) and rejects knowledge bases where a premise
// depends, directly or transitively, on its own conclusion parameter.
func (k *KnowledgeBase) checkCycles() error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(k.params))

	var visit func(param string, ruleTrail []int) error
	visit = func(param string, ruleTrail []int) error {
		switch state[param] {
		case inStack:
			ids := make([]string, len(ruleTrail))
			for i, id := range ruleTrail {
				ids[i] = fmt.Sprintf("%d", id)
			}
			return fmt.Errorf("%w: parameter %q depends on itself via rules [%s]",
				internalerr.ErrCircular, param, strings.Join(ids, " "))
		case done:
			return nil
		}
		state[param] = inStack
		for _, r := range k.byParam[param] {
			for _, prem := range r.Premises {
				if err := visit(prem.Param, append(ruleTrail, r.ID)); err != nil {
					return err
				}
			}
		}
		state[param] = done
		return nil
	}

	params := make([]string, 0, len(k.params))
	for name := range k.params {
		params = append(params, name)
	}
	sort.Strings(params)
	for _, name := range params {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}
