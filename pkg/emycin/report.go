package emycin

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gene-999/emycin/pkg/emycin/engine"
	"github.com/gene-999/emycin/pkg/emycin/store"
	"github.com/gene-999/emycin/pkg/emycin/trace"
)

// ReportBuilder constructs consultation reports with unique session IDs.
// The entropy source is not concurrency-safe on its own; the mutex lets
// concurrent sessions share one builder.
type ReportBuilder struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewReportBuilder creates a report builder.
func NewReportBuilder() *ReportBuilder {
	return &ReportBuilder{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Finding is the final working-memory fact for one goal parameter.
type Finding struct {
	Instance string
	Param    string
	Values   []engine.ValueCF
}

// Report is the outcome of one consultation: every goal finding plus the
// full reasoning trace.
type Report struct {
	SessionID string
	KB        string
	StartedAt time.Time
	Findings  []Finding
	Events    []trace.Event
}

// Build assembles a report for a finished session.
func (b *ReportBuilder) Build(kbName string, started time.Time, findings []Finding, events []trace.Event) *Report {
	b.mu.Lock()
	id := ulid.MustNew(ulid.Now(), b.entropy).String()
	b.mu.Unlock()
	return &Report{
		SessionID: id,
		KB:        kbName,
		StartedAt: started,
		Findings:  findings,
		Events:    events,
	}
}

// String renders the findings the way the console reports them.
func (r *Report) String() string {
	var b strings.Builder
	byInstance := make(map[string][]Finding)
	var order []string
	for _, f := range r.Findings {
		if _, seen := byInstance[f.Instance]; !seen {
			order = append(order, f.Instance)
		}
		byInstance[f.Instance] = append(byInstance[f.Instance], f)
	}

	for _, inst := range order {
		fmt.Fprintf(&b, "Findings for %s:\n", inst)
		for _, f := range byInstance[inst] {
			if len(f.Values) == 0 {
				fmt.Fprintf(&b, "%s: unknown\n", f.Param)
				continue
			}
			parts := make([]string, len(f.Values))
			for i, v := range f.Values {
				parts[i] = fmt.Sprintf("%s: %f", v.Value, v.CF)
			}
			fmt.Fprintf(&b, "%s: %s\n", f.Param, strings.Join(parts, ", "))
		}
	}
	return b.String()
}

// ToRecord flattens the report into its stored form.
func (r *Report) ToRecord() store.Session {
	rec := store.Session{
		ID:        r.SessionID,
		KB:        r.KB,
		StartedAt: r.StartedAt,
	}
	for _, e := range r.Events {
		ev := store.Event{
			Seq:    e.Seq,
			Kind:   string(e.Kind),
			RuleID: e.RuleID,
			CF:     e.CF,
			Detail: e.String(),
		}
		switch e.Kind {
		case trace.InstanceCreated:
			ev.Instance = e.Instance
		default:
			ev.Instance = e.Goal.Instance
			ev.Param = e.Goal.Param
		}
		rec.Events = append(rec.Events, ev)
	}
	for _, f := range r.Findings {
		for _, v := range f.Values {
			rec.Findings = append(rec.Findings, store.Finding{
				Instance: f.Instance,
				Param:    f.Param,
				Value:    v.Value,
				CF:       v.CF,
			})
		}
	}
	return rec
}
