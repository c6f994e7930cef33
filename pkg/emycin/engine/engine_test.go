package engine

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gene-999/emycin/pkg/emycin/cf"
	"github.com/gene-999/emycin/pkg/emycin/kb"
	"github.com/gene-999/emycin/pkg/emycin/trace"
)

// scriptedAsker answers from a fixed table; parameters without an entry are
// declined. It records every question asked.
type scriptedAsker struct {
	answers  map[string][]Answer
	calls    []string
	invalids []error
	whys     []string
	rules    []string
	captures bool
}

func (a *scriptedAsker) Ask(ctx context.Context, q Question) (Reply, error) {
	a.calls = append(a.calls, q.Param.Name)
	a.invalids = append(a.invalids, q.Invalid)
	if a.captures {
		a.whys = append(a.whys, q.WhyAsking())
		a.rules = append(a.rules, q.CurrentRule())
	}
	if ans, ok := a.answers[q.Param.Name]; ok {
		return Reply{Answers: ans}, nil
	}
	return Reply{Unknown: true}, nil
}

// queueAsker replays a fixed sequence of replies for a single parameter.
type queueAsker struct {
	replies  []Reply
	invalids []error
}

func (a *queueAsker) Ask(ctx context.Context, q Question) (Reply, error) {
	a.invalids = append(a.invalids, q.Invalid)
	r := a.replies[0]
	if len(a.replies) > 1 {
		a.replies = a.replies[1:]
	}
	return r, nil
}

func yes(c float64) []Answer {
	return []Answer{{Value: "yes", CF: c}}
}

func mustBuild(t *testing.T, b *kb.Builder) *kb.KnowledgeBase {
	t.Helper()
	k, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return k
}

func feverKB(t *testing.T) *kb.KnowledgeBase {
	return mustBuild(t, kb.NewBuilder("test").
		AddContext(&kb.Context{Name: "patient", Goals: []string{"infection"}}).
		AddParameter(&kb.Parameter{Name: "fever", Context: "patient",
			Domain: kb.EnumDomain("yes", "no"), Askable: true}).
		AddParameter(&kb.Parameter{Name: "infection", Context: "patient",
			Domain: kb.EnumDomain("yes", "no")}).
		AddRule(&kb.Rule{
			ID:          1,
			Premises:    []kb.Clause{{Param: "fever", Context: "patient", Op: kb.OpEq, Value: "yes"}},
			Conclusions: []kb.Clause{{Param: "infection", Context: "patient", Op: kb.OpEq, Value: "yes"}},
			CF:          0.6,
		}))
}

func countEvents(log *trace.Log, kind trace.EventKind) int {
	n := 0
	for _, e := range log.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestFindOut_RuleDerivesConclusion(t *testing.T) {
	asker := &scriptedAsker{answers: map[string][]Answer{"fever": yes(1)}}
	s := NewSession(feverKB(t), asker, nil)

	inst, err := s.Instantiate("patient")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := s.FindOut(context.Background(), inst, "infection")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected infection to be established")
	}

	fact := s.Memory().Fact(inst, "infection")
	best, _ := fact.Best()
	if best.Value != "yes" || math.Abs(best.CF-0.6) > 1e-9 {
		t.Errorf("infection = %+v, want yes at 0.6", best)
	}
	if fact.Truth() != cf.TruthTrue {
		t.Errorf("truth = %s, want true", fact.Truth())
	}

	log := s.Trace()
	if countEvents(log, trace.QuestionAsked) != 1 {
		t.Error("expected one question")
	}
	if countEvents(log, trace.RuleFired) != 1 {
		t.Error("expected one rule firing")
	}
	if countEvents(log, trace.GoalResolved) < 1 {
		t.Error("expected a resolution event")
	}
}

func TestFindOut_MemoizedSecondResolve(t *testing.T) {
	asker := &scriptedAsker{answers: map[string][]Answer{"fever": yes(1)}}
	s := NewSession(feverKB(t), asker, nil)
	inst, _ := s.Instantiate("patient")
	ctx := context.Background()

	if _, err := s.FindOut(ctx, inst, "infection"); err != nil {
		t.Fatal(err)
	}
	first := s.Memory().Fact(inst, "infection")
	firings := countEvents(s.Trace(), trace.RuleFired)

	if _, err := s.FindOut(ctx, inst, "infection"); err != nil {
		t.Fatal(err)
	}
	second := s.Memory().Fact(inst, "infection")

	if got := countEvents(s.Trace(), trace.RuleFired); got != firings {
		t.Errorf("second resolve fired rules again: %d -> %d", firings, got)
	}
	if len(asker.calls) != 1 {
		t.Errorf("second resolve asked again: %v", asker.calls)
	}
	if diff := cmp.Diff(first.Values, second.Values); diff != "" {
		t.Errorf("fact changed on second resolve (-first +second):\n%s", diff)
	}
}

func TestFindOut_CombinesEvidenceAcrossRules(t *testing.T) {
	base := mustBuild(t, kb.NewBuilder("test").
		AddContext(&kb.Context{Name: "patient", Goals: []string{"infection"}}).
		AddParameter(&kb.Parameter{Name: "a", Context: "patient",
			Domain: kb.EnumDomain("yes", "no"), Askable: true}).
		AddParameter(&kb.Parameter{Name: "b", Context: "patient",
			Domain: kb.EnumDomain("yes", "no"), Askable: true}).
		AddParameter(&kb.Parameter{Name: "infection", Context: "patient",
			Domain: kb.EnumDomain("yes", "no")}).
		AddRule(&kb.Rule{
			ID:          1,
			Premises:    []kb.Clause{{Param: "a", Context: "patient", Op: kb.OpEq, Value: "yes"}},
			Conclusions: []kb.Clause{{Param: "infection", Context: "patient", Op: kb.OpEq, Value: "yes"}},
			CF:          0.4,
		}).
		AddRule(&kb.Rule{
			ID:          2,
			Premises:    []kb.Clause{{Param: "b", Context: "patient", Op: kb.OpEq, Value: "yes"}},
			Conclusions: []kb.Clause{{Param: "infection", Context: "patient", Op: kb.OpEq, Value: "yes"}},
			CF:          0.3,
		}))

	asker := &scriptedAsker{answers: map[string][]Answer{"a": yes(1), "b": yes(1)}}
	s := NewSession(base, asker, nil)
	inst, _ := s.Instantiate("patient")

	if _, err := s.FindOut(context.Background(), inst, "infection"); err != nil {
		t.Fatal(err)
	}
	best, _ := s.Memory().Fact(inst, "infection").Best()
	if math.Abs(best.CF-0.58) > 1e-9 {
		t.Errorf("combined certainty = %f, want 0.58", best.CF)
	}
	if countEvents(s.Trace(), trace.RuleFired) != 2 {
		t.Error("both rules should have fired")
	}
}

func TestFindOut_OpposingEvidenceCancels(t *testing.T) {
	base := mustBuild(t, kb.NewBuilder("test").
		AddContext(&kb.Context{Name: "patient", Goals: []string{"infection"}}).
		AddParameter(&kb.Parameter{Name: "a", Context: "patient",
			Domain: kb.EnumDomain("yes", "no"), Askable: true}).
		AddParameter(&kb.Parameter{Name: "b", Context: "patient",
			Domain: kb.EnumDomain("yes", "no"), Askable: true}).
		AddParameter(&kb.Parameter{Name: "infection", Context: "patient",
			Domain: kb.EnumDomain("yes", "no")}).
		AddRule(&kb.Rule{
			ID:          1,
			Premises:    []kb.Clause{{Param: "a", Context: "patient", Op: kb.OpEq, Value: "yes"}},
			Conclusions: []kb.Clause{{Param: "infection", Context: "patient", Op: kb.OpEq, Value: "yes"}},
			CF:          0.5,
		}).
		AddRule(&kb.Rule{
			ID:          2,
			Premises:    []kb.Clause{{Param: "b", Context: "patient", Op: kb.OpEq, Value: "yes"}},
			Conclusions: []kb.Clause{{Param: "infection", Context: "patient", Op: kb.OpEq, Value: "yes"}},
			CF:          -0.5,
		}))

	asker := &scriptedAsker{answers: map[string][]Answer{"a": yes(1), "b": yes(1)}}
	s := NewSession(base, asker, nil)
	inst, _ := s.Instantiate("patient")

	if _, err := s.FindOut(context.Background(), inst, "infection"); err != nil {
		t.Fatal(err)
	}
	fact := s.Memory().Fact(inst, "infection")
	best, ok := fact.Best()
	if !ok || math.Abs(best.CF) > 1e-9 {
		t.Errorf("opposing evidence should cancel to 0, got %+v", fact)
	}
	if fact.Truth() != cf.TruthUnknown {
		t.Errorf("truth = %s, want unknown", fact.Truth())
	}
}

func TestFindOut_WeakPremiseNeverFires(t *testing.T) {
	asker := &scriptedAsker{answers: map[string][]Answer{"fever": yes(0.1)}}
	s := NewSession(feverKB(t), asker, nil)
	inst, _ := s.Instantiate("patient")

	ok, err := s.FindOut(context.Background(), inst, "infection")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("nothing should be established from a sub-threshold premise")
	}
	if got := s.Memory().Fact(inst, "infection"); len(got.Values) != 0 {
		t.Errorf("conclusion fact changed by non-firing rule: %+v", got)
	}
	if countEvents(s.Trace(), trace.RuleFired) != 0 {
		t.Error("no rule should have fired")
	}
}

func TestFindOut_DeclinedUnknownIsTerminal(t *testing.T) {
	base := mustBuild(t, kb.NewBuilder("test").
		AddContext(&kb.Context{Name: "patient"}).
		AddParameter(&kb.Parameter{Name: "fever", Context: "patient",
			Domain: kb.EnumDomain("yes", "no"), Askable: true}))

	asker := &scriptedAsker{} // declines everything
	s := NewSession(base, asker, nil)
	inst, _ := s.Instantiate("patient")
	ctx := context.Background()

	ok, err := s.FindOut(ctx, inst, "fever")
	if err != nil || ok {
		t.Fatalf("first resolve = %v, %v; want false, nil", ok, err)
	}
	ok, err = s.FindOut(ctx, inst, "fever")
	if err != nil || ok {
		t.Fatalf("second resolve = %v, %v; want false, nil", ok, err)
	}
	if len(asker.calls) != 1 {
		t.Errorf("declined question re-asked: %v", asker.calls)
	}
}

func TestFindOut_MalformedReplyIsReasked(t *testing.T) {
	base := mustBuild(t, kb.NewBuilder("test").
		AddContext(&kb.Context{Name: "patient"}).
		AddParameter(&kb.Parameter{Name: "fever", Context: "patient",
			Domain: kb.EnumDomain("yes", "no"), Askable: true}))

	asker := &queueAsker{replies: []Reply{
		{Answers: []Answer{{Value: "maybe", CF: 1}}},
		{Answers: []Answer{{Value: "yes", CF: 1}}},
	}}
	s := NewSession(base, asker, nil)
	inst, _ := s.Instantiate("patient")

	ok, err := s.FindOut(context.Background(), inst, "fever")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("valid retry should establish the value")
	}
	if len(asker.invalids) != 2 || asker.invalids[0] != nil || asker.invalids[1] == nil {
		t.Errorf("expected a re-ask carrying the validation error, got %v", asker.invalids)
	}
	vals := s.Memory().Values(inst, "fever")
	if len(vals) != 1 || vals["yes"] != 1 {
		t.Errorf("only the valid answer may be stored: %v", vals)
	}
}

func TestFindOut_OutOfRangeCertaintyRejected(t *testing.T) {
	base := mustBuild(t, kb.NewBuilder("test").
		AddContext(&kb.Context{Name: "patient"}).
		AddParameter(&kb.Parameter{Name: "fever", Context: "patient",
			Domain: kb.EnumDomain("yes", "no"), Askable: true}))

	asker := &queueAsker{replies: []Reply{
		{Answers: []Answer{{Value: "yes", CF: 1.5}}},
		{Answers: []Answer{{Value: "yes", CF: 0.9}}},
	}}
	s := NewSession(base, asker, nil)
	inst, _ := s.Instantiate("patient")

	if _, err := s.FindOut(context.Background(), inst, "fever"); err != nil {
		t.Fatal(err)
	}
	if got := s.Memory().Values(inst, "fever")["yes"]; got != 0.9 {
		t.Errorf("stored certainty = %f, want 0.9", got)
	}
}

func TestFindOut_AskFirstSkipsRulesOnAnswer(t *testing.T) {
	base := mustBuild(t, kb.NewBuilder("test").
		AddContext(&kb.Context{Name: "patient"}).
		AddParameter(&kb.Parameter{Name: "fever", Context: "patient",
			Domain: kb.EnumDomain("yes", "no"), Askable: true, AskFirst: true}).
		AddParameter(&kb.Parameter{Name: "chills", Context: "patient",
			Domain: kb.EnumDomain("yes", "no"), Askable: true}).
		AddRule(&kb.Rule{
			ID:          1,
			Premises:    []kb.Clause{{Param: "chills", Context: "patient", Op: kb.OpEq, Value: "yes"}},
			Conclusions: []kb.Clause{{Param: "fever", Context: "patient", Op: kb.OpEq, Value: "yes"}},
			CF:          0.8,
		}))

	asker := &scriptedAsker{answers: map[string][]Answer{"fever": yes(1), "chills": yes(1)}}
	s := NewSession(base, asker, nil)
	inst, _ := s.Instantiate("patient")

	if _, err := s.FindOut(context.Background(), inst, "fever"); err != nil {
		t.Fatal(err)
	}
	if len(asker.calls) != 1 || asker.calls[0] != "fever" {
		t.Errorf("ask-first parameter should be asked before rules run: %v", asker.calls)
	}
}

func TestFindOut_CreatesInstanceForPremiseContext(t *testing.T) {
	base := mustBuild(t, kb.NewBuilder("test").
		AddContext(&kb.Context{Name: "patient", Goals: []string{"infection"}}).
		AddContext(&kb.Context{Name: "culture"}).
		AddParameter(&kb.Parameter{Name: "site", Context: "culture",
			Domain: kb.EnumDomain("blood"), Askable: true}).
		AddParameter(&kb.Parameter{Name: "infection", Context: "patient",
			Domain: kb.EnumDomain("yes", "no")}).
		AddRule(&kb.Rule{
			ID:          1,
			Premises:    []kb.Clause{{Param: "site", Context: "culture", Op: kb.OpEq, Value: "blood"}},
			Conclusions: []kb.Clause{{Param: "infection", Context: "patient", Op: kb.OpEq, Value: "yes"}},
			CF:          0.4,
		}))

	asker := &scriptedAsker{answers: map[string][]Answer{"site": {{Value: "blood", CF: 1}}}}
	s := NewSession(base, asker, nil)
	inst, _ := s.Instantiate("patient")

	if _, err := s.FindOut(context.Background(), inst, "infection"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Memory().CurrentInstance("culture"); !ok {
		t.Error("premise context should have been instantiated lazily")
	}
	if countEvents(s.Trace(), trace.InstanceCreated) != 2 {
		t.Error("expected creation events for patient and culture")
	}
}

func TestSession_WhyAndCurrentRule(t *testing.T) {
	asker := &scriptedAsker{answers: map[string][]Answer{"fever": yes(1)}, captures: true}
	s := NewSession(feverKB(t), asker, nil)
	inst, _ := s.Instantiate("patient")

	if _, err := s.FindOut(context.Background(), inst, "infection"); err != nil {
		t.Fatal(err)
	}
	if len(asker.whys) != 1 {
		t.Fatalf("expected one captured why, got %d", len(asker.whys))
	}
	if !strings.Contains(asker.whys[0], "RULE 1") {
		t.Errorf("why should show the rule needing the answer:\n%s", asker.whys[0])
	}
	if !strings.Contains(asker.rules[0], "RULE 1") {
		t.Errorf("current rule should be RULE 1:\n%s", asker.rules[0])
	}
}

func TestSession_WhyOutsideRules(t *testing.T) {
	base := mustBuild(t, kb.NewBuilder("test").
		AddContext(&kb.Context{Name: "patient", InitialData: []string{"fever"}}).
		AddParameter(&kb.Parameter{Name: "fever", Context: "patient",
			Domain: kb.EnumDomain("yes", "no"), Askable: true}))

	asker := &scriptedAsker{answers: map[string][]Answer{"fever": yes(1)}, captures: true}
	s := NewSession(base, asker, nil)
	s.SetPhase(PhaseInitial)
	inst, _ := s.Instantiate("patient")

	if _, err := s.FindOut(context.Background(), inst, "fever"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(asker.whys[0], "one of the initial parameters") {
		t.Errorf("why outside rule evaluation:\n%s", asker.whys[0])
	}
}

func TestSession_AskableOrdering(t *testing.T) {
	base := mustBuild(t, kb.NewBuilder("test").
		AddContext(&kb.Context{Name: "patient"}).
		AddParameter(&kb.Parameter{Name: "alpha", Context: "patient",
			Domain: kb.EnumDomain("yes", "no"), Askable: true}).
		AddParameter(&kb.Parameter{Name: "beta", Context: "patient",
			Domain: kb.EnumDomain("yes", "no"), Askable: true, Priority: 2}).
		AddParameter(&kb.Parameter{Name: "gamma", Context: "patient",
			Domain: kb.EnumDomain("yes", "no"), Askable: true, Priority: 1}).
		AddParameter(&kb.Parameter{Name: "delta", Context: "patient",
			Domain: kb.EnumDomain("yes", "no")})) // not askable

	s := NewSession(base, &scriptedAsker{}, nil)
	inst, _ := s.Instantiate("patient")

	var names []string
	for _, p := range s.Askable(inst) {
		names = append(names, p.Name)
	}
	want := []string{"gamma", "beta", "alpha"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("askable order (-want +got):\n%s", diff)
	}

	// An answered question drops out of the batch.
	if _, err := s.FindOut(context.Background(), inst, "gamma"); err != nil {
		t.Fatal(err)
	}
	names = names[:0]
	for _, p := range s.Askable(inst) {
		names = append(names, p.Name)
	}
	if diff := cmp.Diff([]string{"beta", "alpha"}, names); diff != "" {
		t.Errorf("askable order after answering (-want +got):\n%s", diff)
	}
}

func TestFindOut_UndeclaredParameter(t *testing.T) {
	s := NewSession(feverKB(t), &scriptedAsker{}, nil)
	inst, _ := s.Instantiate("patient")

	if _, err := s.FindOut(context.Background(), inst, "nonexistent"); err == nil {
		t.Error("expected an error for an undeclared parameter")
	}
}
