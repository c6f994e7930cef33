// Package engine implements backward-chaining goal resolution over a
// knowledge base, with certainty-factor evidence combination, memoization
// and trace capture. One Session is one consultation; sessions share only
// the read-only knowledge base.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/gene-999/emycin/pkg/emycin/cf"
	"github.com/gene-999/emycin/pkg/emycin/internalerr"
	"github.com/gene-999/emycin/pkg/emycin/kb"
	"github.com/gene-999/emycin/pkg/emycin/trace"
)

// Phase markers for questions asked outside any rule evaluation.
const (
	PhaseInitial = "initial"
	PhaseGoal    = "goal"
)

// Session is one consultation: a working memory, a trace log and an active
// resolution stack over a shared read-only knowledge base. Sessions are
// single-threaded; resolution is a synchronous recursive call tree whose
// only suspension point is asking the operator.
type Session struct {
	kb     *kb.KnowledgeBase
	mem    *Memory
	log    *trace.Log
	asker  Asker
	logger *slog.Logger

	phase     string
	ruleStack []*kb.Rule
	inflight  map[goalKey]bool
}

// NewSession creates a session over a built knowledge base. The asker may be
// nil, in which case askable parameters without concluding rules simply stay
// unknown.
func NewSession(base *kb.KnowledgeBase, asker Asker, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		kb:       base,
		mem:      NewMemory(),
		log:      trace.NewLog(),
		asker:    asker,
		logger:   logger,
		phase:    PhaseInitial,
		inflight: make(map[goalKey]bool),
	}
}

// Memory exposes the session's working memory.
func (s *Session) Memory() *Memory { return s.mem }

// Trace exposes the session's event log.
func (s *Session) Trace() *trace.Log { return s.log }

// SetPhase labels questions asked outside rule evaluation, for "why".
func (s *Session) SetPhase(phase string) { s.phase = phase }

// Instantiate creates (or reuses, for single-instance contexts) an instance
// of the named context and records the creation.
func (s *Session) Instantiate(contextName string) (*Instance, error) {
	c, ok := s.kb.Context(contextName)
	if !ok {
		return nil, fmt.Errorf("%w: context %q", internalerr.ErrNotFound, contextName)
	}
	inst, created := s.mem.CreateInstance(c)
	if created {
		s.log.Append(trace.Event{
			Kind:     trace.InstanceCreated,
			Context:  c.Name,
			Instance: inst.DisplayName(),
		})
		s.logger.Debug("created instance", "instance", inst.DisplayName())
	}
	return inst, nil
}

// instanceFor binds a clause's context to its live instance, creating one
// lazily when a rule reaches into a context that has none yet.
func (s *Session) instanceFor(contextName string) (*Instance, error) {
	if inst, ok := s.mem.CurrentInstance(contextName); ok {
		return inst, nil
	}
	return s.Instantiate(contextName)
}

// FindOut resolves a goal: returns the cached fact when the goal is already
// terminal, otherwise evaluates every rule that can conclude the parameter,
// asking the operator before or after depending on the parameter's AskFirst
// flag. The result reports whether anything was established.
func (s *Session) FindOut(ctx context.Context, inst *Instance, param string) (bool, error) {
	p, ok := s.kb.Param(param)
	if !ok {
		return false, fmt.Errorf("%w: parameter %q", internalerr.ErrNotFound, param)
	}

	key := goalKey{inst.ID, param}
	if s.mem.IsKnown(inst, param) {
		return len(s.mem.Values(inst, param)) > 0, nil
	}
	if s.inflight[key] {
		return false, fmt.Errorf("%w: %s of %s requested while already being resolved (rules [%s])",
			internalerr.ErrCircular, param, inst.DisplayName(), s.ruleTrail())
	}
	s.inflight[key] = true
	defer delete(s.inflight, key)

	s.logger.Debug("finding out", "param", param, "instance", inst.DisplayName())

	var success bool
	var err error
	if p.AskFirst && p.Askable {
		success, err = s.ask(ctx, inst, p)
		if err == nil && !success {
			success, err = s.useRules(ctx, inst, param)
		}
	} else {
		success, err = s.useRules(ctx, inst, param)
		if err == nil && !success && p.Askable {
			success, err = s.ask(ctx, inst, p)
		}
	}
	if err != nil {
		return false, err
	}

	if success || s.mem.WasAsked(inst, param) {
		// Either resolved, or the operator explicitly declined: both are
		// terminal for the rest of the session.
		s.mem.MarkKnown(inst, param)
		fact := s.mem.Fact(inst, param)
		s.log.Append(trace.Event{
			Kind:  trace.GoalResolved,
			Goal:  trace.Goal{Instance: inst.DisplayName(), Param: param},
			Truth: fact.Truth().String(),
		})
	}
	return success, nil
}

// useRules evaluates every candidate rule for the parameter. All matching
// rules contribute; evaluation is never cut short by the first success.
func (s *Session) useRules(ctx context.Context, inst *Instance, param string) (bool, error) {
	var any bool
	for _, r := range s.kb.Rules(param) {
		fired, err := s.applyRule(ctx, r)
		if err != nil {
			return false, err
		}
		any = any || fired
	}
	return any, nil
}

// applyRule checks a rule's premise and, when it holds, asserts every
// conclusion scaled by the premise certainty.
func (s *Session) applyRule(ctx context.Context, r *kb.Rule) (bool, error) {
	s.ruleStack = append(s.ruleStack, r)
	defer func() { s.ruleStack = s.ruleStack[:len(s.ruleStack)-1] }()

	// Reject cheaply on premises already known to be false, before any
	// recursive resolution or questioning happens.
	for _, prem := range r.Premises {
		inst, err := s.instanceFor(prem.Context)
		if err != nil {
			return false, err
		}
		if cf.IsFalse(s.evalCondition(prem, inst)) {
			return false, nil
		}
	}

	premiseCF := cf.True
	var premiseGoals []trace.Goal
	for _, prem := range r.Premises {
		inst, err := s.instanceFor(prem.Context)
		if err != nil {
			return false, err
		}
		if _, err := s.FindOut(ctx, inst, prem.Param); err != nil {
			return false, err
		}
		premiseGoals = append(premiseGoals, trace.Goal{Instance: inst.DisplayName(), Param: prem.Param})
		premiseCF = cf.And(premiseCF, s.evalCondition(prem, inst))
		if !cf.IsTrue(premiseCF) {
			return false, nil
		}
	}

	// The firing gate is the premise: a rule whose premise holds fires and
	// contributes ruleCF*premiseCF, which may be evidence against the
	// conclusion when the rule's certainty is negative.
	if !cf.IsTrue(premiseCF) {
		return false, nil
	}
	conclusionCF := cf.Scale(r.CF, premiseCF)

	s.logger.Debug("applying rule", "rule", r.ID, "cf", conclusionCF)

	var conclusions []trace.Goal
	for _, concl := range r.Conclusions {
		inst, err := s.instanceFor(concl.Context)
		if err != nil {
			return false, err
		}
		s.mem.Update(inst, concl.Param, concl.Value, conclusionCF)
		conclusions = append(conclusions, trace.Goal{Instance: inst.DisplayName(), Param: concl.Param})
	}

	s.log.Append(trace.Event{
		Kind:        trace.RuleFired,
		RuleID:      r.ID,
		CF:          conclusionCF,
		Conclusions: conclusions,
		Premises:    premiseGoals,
	})
	return true, nil
}

// evalCondition computes the certainty that a clause holds: the sum of the
// certainties of every stored value satisfying the clause's operator.
func (s *Session) evalCondition(cl kb.Clause, inst *Instance) float64 {
	var total float64
	for val, c := range s.mem.Values(inst, cl.Param) {
		if cl.Op.Eval(val, cl.Value) {
			total += c
		}
	}
	return total
}

// ask poses a goal to the operator, at most once per session. Malformed
// replies are rejected and re-asked; an explicit "unknown" is terminal.
func (s *Session) ask(ctx context.Context, inst *Instance, p *kb.Parameter) (bool, error) {
	if s.asker == nil || s.mem.WasAsked(inst, p.Name) {
		return false, nil
	}
	s.mem.MarkAsked(inst, p.Name)
	s.log.Append(trace.Event{
		Kind: trace.QuestionAsked,
		Goal: trace.Goal{Instance: inst.DisplayName(), Param: p.Name},
	})
	s.logger.Debug("asking", "param", p.Name, "instance", inst.DisplayName())

	q := Question{
		Instance:    inst,
		Param:       p,
		WhyAsking:   func() string { return s.WhyAsking(p.Name) },
		CurrentRule: func() string { return s.CurrentRuleText() },
	}
	for {
		reply, err := s.asker.Ask(ctx, q)
		if err != nil {
			return false, fmt.Errorf("ask %s of %s: %w", p.Name, inst.DisplayName(), err)
		}
		if reply.Unknown {
			return false, nil
		}
		answers, err := validateAnswers(p, reply.Answers)
		if err != nil {
			q.Invalid = err
			continue
		}
		for _, a := range answers {
			s.mem.Update(inst, p.Name, a.Value, a.CF)
		}
		return true, nil
	}
}

func validateAnswers(p *kb.Parameter, answers []Answer) ([]Answer, error) {
	if len(answers) == 0 {
		return nil, fmt.Errorf("%w: empty reply", internalerr.ErrInvalidInput)
	}
	out := make([]Answer, 0, len(answers))
	for _, a := range answers {
		val, err := p.Parse(a.Value)
		if err != nil {
			return nil, err
		}
		if !cf.IsValid(a.CF) {
			return nil, fmt.Errorf("%w: certainty %f out of range", internalerr.ErrInvalidInput, a.CF)
		}
		out = append(out, Answer{Value: val, CF: a.CF})
	}
	return out, nil
}

// CurrentRule returns the rule on top of the active resolution stack, if any.
func (s *Session) CurrentRule() (*kb.Rule, bool) {
	if len(s.ruleStack) == 0 {
		return nil, false
	}
	return s.ruleStack[len(s.ruleStack)-1], true
}

// CurrentRuleText renders the current rule for the "rule" command.
func (s *Session) CurrentRuleText() string {
	if r, ok := s.CurrentRule(); ok {
		return r.String()
	}
	return fmt.Sprintf("no rule is being evaluated; gathering %s parameters", s.phase)
}

// WhyAsking explains why a parameter is being asked for: either it is a
// top-level initial/goal parameter, or the current rule needs it, in which
// case the premises already established are separated from the open ones.
func (s *Session) WhyAsking(param string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Why is the value of %s being asked for?\n", param)

	r, ok := s.CurrentRule()
	if !ok {
		fmt.Fprintf(&b, "%s is one of the %s parameters.", param, s.phase)
		return b.String()
	}

	var known, open []kb.Clause
	for _, prem := range r.Premises {
		inst, exists := s.mem.CurrentInstance(prem.Context)
		if exists && cf.IsTrue(s.evalCondition(prem, inst)) {
			known = append(known, prem)
		} else {
			open = append(open, prem)
		}
	}

	if len(known) > 0 {
		b.WriteString("It is known that:\n")
		for _, cl := range known {
			fmt.Fprintf(&b, "\t%s\n", cl)
		}
		b.WriteString("Therefore,\n")
	}
	remaining := &kb.Rule{ID: r.ID, Premises: open, Conclusions: r.Conclusions, CF: r.CF}
	b.WriteString(remaining.String())
	return b.String()
}

// Why returns the trace events that led to the current fact for a goal.
func (s *Session) Why(inst *Instance, param string) []trace.Event {
	return s.log.Why(trace.Goal{Instance: inst.DisplayName(), Param: param})
}

// Askable lists the parameters of an instance's context that could be posed
// as questions right now: askable, not yet asked, not yet resolved. Explicit
// priorities come first (ascending); the rest follow declaration order.
func (s *Session) Askable(inst *Instance) []*kb.Parameter {
	var out []*kb.Parameter
	for _, p := range s.kb.Params() {
		if p.Context != inst.Context || !p.Askable {
			continue
		}
		if s.mem.WasAsked(inst, p.Name) || s.mem.IsKnown(inst, p.Name) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Priority, out[j].Priority
		switch {
		case pi > 0 && pj > 0:
			return pi < pj
		case pi > 0:
			return true
		case pj > 0:
			return false
		}
		return s.kb.DeclOrder(out[i].Name) < s.kb.DeclOrder(out[j].Name)
	})
	return out
}

func (s *Session) ruleTrail() string {
	ids := make([]string, len(s.ruleStack))
	for i, r := range s.ruleStack {
		ids[i] = fmt.Sprintf("%d", r.ID)
	}
	return strings.Join(ids, " ")
}
