// Package trace records the reasoning steps of one consultation as an
// append-only event log. Explanation queries ("why") read the log; nothing
// ever mutates or removes an event.
package trace

import "fmt"

// Goal identifies what an event was about: a parameter of one instance.
// Instance is the display name of the instance (eg "organism-0").
type Goal struct {
	Instance string
	Param    string
}

// String renders the goal for explanations.
func (g Goal) String() string {
	return fmt.Sprintf("%s of %s", g.Param, g.Instance)
}

// EventKind tags the variants of Event.
type EventKind string

const (
	InstanceCreated EventKind = "instance-created"
	QuestionAsked   EventKind = "question-asked"
	RuleFired       EventKind = "rule-fired"
	GoalResolved    EventKind = "goal-resolved"
)

// Event is one immutable reasoning step. Which fields are meaningful depends
// on Kind: InstanceCreated uses Context/Instance; QuestionAsked and
// GoalResolved use Goal (and Truth for the latter); RuleFired uses RuleID,
// CF, Conclusions and Premises.
type Event struct {
	Seq         int
	Kind        EventKind
	Context     string
	Instance    string
	Goal        Goal
	RuleID      int
	CF          float64
	Truth       string
	Conclusions []Goal
	Premises    []Goal
}

// String renders the event for transcripts.
func (e Event) String() string {
	switch e.Kind {
	case InstanceCreated:
		return fmt.Sprintf("created %s instance %s", e.Context, e.Instance)
	case QuestionAsked:
		return fmt.Sprintf("asked %s", e.Goal)
	case RuleFired:
		return fmt.Sprintf("rule %d fired with certainty %.3f", e.RuleID, e.CF)
	case GoalResolved:
		return fmt.Sprintf("resolved %s as %s", e.Goal, e.Truth)
	}
	return string(e.Kind)
}

// Log is the per-session event record. It is not safe for concurrent use;
// a session is single-threaded by design.
type Log struct {
	events []Event
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append records an event and returns its sequence number.
func (l *Log) Append(e Event) int {
	e.Seq = len(l.events)
	l.events = append(l.events, e)
	return e.Seq
}

// Events returns a copy of the log in chronological order.
func (l *Log) Events() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of recorded events.
func (l *Log) Len() int {
	return len(l.events)
}

// Why returns the chain of events that led to the current fact for a goal:
// every rule firing, question and resolution touching the goal, plus
// transitively the events behind each firing rule's premises. Events come
// back in chronological order.
func (l *Log) Why(goal Goal) []Event {
	wanted := map[Goal]bool{goal: true}
	picked := make([]bool, len(l.events))

	// Backward scan so premise goals discovered from a firing are already
	// in the wanted set when their own events come up.
	for i := len(l.events) - 1; i >= 0; i-- {
		e := l.events[i]
		switch e.Kind {
		case QuestionAsked, GoalResolved:
			if wanted[e.Goal] {
				picked[i] = true
			}
		case RuleFired:
			touches := false
			for _, c := range e.Conclusions {
				if wanted[c] {
					touches = true
					break
				}
			}
			if touches {
				picked[i] = true
				for _, p := range e.Premises {
					wanted[p] = true
				}
			}
		}
	}

	var out []Event
	for i, ok := range picked {
		if ok {
			out = append(out, l.events[i])
		}
	}
	return out
}
