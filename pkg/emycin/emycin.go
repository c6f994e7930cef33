// Package emycin is a domain-independent expert-system shell: a
// backward-chaining inference engine that reasons under uncertainty with
// MYCIN-style certainty factors. Domain authors declare contexts, parameters
// and rules; the shell deduces parameter values from rules and falls back to
// asking the operator when a value cannot be derived.
package emycin

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gene-999/emycin/pkg/emycin/cf"
	"github.com/gene-999/emycin/pkg/emycin/engine"
	"github.com/gene-999/emycin/pkg/emycin/internalerr"
	"github.com/gene-999/emycin/pkg/emycin/kb"
	"github.com/gene-999/emycin/pkg/emycin/store"
)

// Shell drives consultations over one knowledge base. The knowledge base is
// read-only after construction, so a Shell may run independent sessions
// concurrently; each Execute call is its own session.
type Shell struct {
	kb      *kb.KnowledgeBase
	asker   engine.Asker
	logger  *slog.Logger
	rec     store.Store
	reports *ReportBuilder
}

// Options configures a Shell.
type Options struct {
	KB     *kb.KnowledgeBase
	Asker  engine.Asker
	Logger *slog.Logger

	// Store, when set, receives a transcript of every consultation.
	Store store.Store
}

// New creates a Shell with the given dependencies.
func New(opts Options) *Shell {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Shell{
		kb:      opts.KB,
		asker:   opts.Asker,
		logger:  logger,
		rec:     opts.Store,
		reports: NewReportBuilder(),
	}
}

// NewSession starts a consultation session without running it, for callers
// that want to drive goals one at a time.
func (s *Shell) NewSession() *engine.Session {
	return engine.NewSession(s.kb, s.asker, s.logger)
}

// Execute runs a full consultation: for each named context, instantiate it,
// gather its initial-data parameters, then resolve its goal parameters. The
// report carries the final working-memory facts for every goal parameter.
func (s *Shell) Execute(ctx context.Context, contextNames []string) (*Report, error) {
	started := time.Now()
	sess := s.NewSession()

	s.logger.Info("beginning consultation", "contexts", strings.Join(contextNames, ", "))

	var findings []Finding
	for _, name := range contextNames {
		c, ok := s.kb.Context(name)
		if !ok {
			return nil, fmt.Errorf("%w: context %q", internalerr.ErrNotFound, name)
		}
		inst, err := sess.Instantiate(name)
		if err != nil {
			return nil, err
		}

		sess.SetPhase(engine.PhaseInitial)
		for _, param := range c.InitialData {
			if _, err := sess.FindOut(ctx, inst, param); err != nil {
				return nil, err
			}
		}

		sess.SetPhase(engine.PhaseGoal)
		for _, param := range c.Goals {
			if _, err := sess.FindOut(ctx, inst, param); err != nil {
				return nil, err
			}
			findings = append(findings, Finding{
				Instance: inst.DisplayName(),
				Param:    param,
				Values:   sess.Memory().Fact(inst, param).Values,
			})
		}
	}

	report := s.reports.Build(s.kb.Name, started, findings, sess.Trace().Events())
	if s.rec != nil {
		if err := s.rec.SaveSession(ctx, report.ToRecord()); err != nil {
			return nil, fmt.Errorf("save transcript: %w", err)
		}
	}
	return report, nil
}

// ParseReply parses an operator reply for a parameter: either a single value
// (certainty 1), or comma-separated "value cf" pairs for multiple answers
// with associated certainty factors. Values are validated against the
// parameter's domain.
func ParseReply(p *kb.Parameter, reply string) ([]engine.Answer, error) {
	reply = strings.TrimSpace(reply)
	if !strings.Contains(reply, ",") {
		val, err := p.Parse(reply)
		if err != nil {
			return nil, err
		}
		return []engine.Answer{{Value: val, CF: cf.True}}, nil
	}

	var answers []engine.Answer
	for _, pair := range strings.Split(reply, ",") {
		fields := strings.Fields(strings.TrimSpace(pair))
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: expected \"value cf\", got %q", internalerr.ErrInvalidInput, pair)
		}
		val, err := p.Parse(fields[0])
		if err != nil {
			return nil, err
		}
		c, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || !cf.IsValid(c) {
			return nil, fmt.Errorf("%w: %q is not a certainty factor", internalerr.ErrInvalidInput, fields[1])
		}
		answers = append(answers, engine.Answer{Value: val, CF: c})
	}
	return answers, nil
}

// Help is the text shown to the operator for the "help" command.
const Help = `Type one of the following:
?       - to see possible answers for this parameter
rule    - to show the current rule
why     - to see why this question is asked
help    - to show this message
unknown - if the answer to this question is not known
<val>   - a single definite answer to the question
<val1> <cf1> [, <val2> <cf2>, ...]
        - if there are multiple answers with associated certainty factors.`
