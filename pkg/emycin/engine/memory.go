package engine

import (
	"crypto/rand"
	"fmt"
	"sort"

	"github.com/oklog/ulid/v2"

	"github.com/gene-999/emycin/pkg/emycin/cf"
	"github.com/gene-999/emycin/pkg/emycin/kb"
)

// Instance is one concrete occurrence of a context during a session.
type Instance struct {
	ID      string
	Context string
	Seq     int
}

// DisplayName numbers instances per context, eg "organism-0".
func (i *Instance) DisplayName() string {
	return fmt.Sprintf("%s-%d", i.Context, i.Seq)
}

// ValueCF is one established value with its combined certainty.
type ValueCF struct {
	Value string
	CF    float64
}

// Fact is the working-memory snapshot for a parameter of an instance:
// every value with evidence so far, strongest first.
type Fact struct {
	Instance *Instance
	Param    string
	Values   []ValueCF
}

// Best returns the value with the highest certainty, if any.
func (f Fact) Best() (ValueCF, bool) {
	if len(f.Values) == 0 {
		return ValueCF{}, false
	}
	return f.Values[0], true
}

// Truth classifies the fact by its strongest value.
func (f Fact) Truth() cf.Truth {
	best, ok := f.Best()
	if !ok {
		return cf.TruthUnknown
	}
	return cf.Classify(best.CF)
}

type goalKey struct {
	instance string // Instance.ID
	param    string
}

// Memory is the dynamic state of one session: live instances and the
// evidence accumulated for each (instance, parameter) goal. Evidence only
// ever combines; nothing is retracted.
type Memory struct {
	entropy   *ulid.MonotonicEntropy
	instances map[string][]*Instance
	values    map[goalKey]map[string]float64
	known     map[goalKey]bool
	asked     map[goalKey]bool
}

// NewMemory creates an empty working memory.
func NewMemory() *Memory {
	return &Memory{
		entropy:   ulid.Monotonic(rand.Reader, 0),
		instances: make(map[string][]*Instance),
		values:    make(map[goalKey]map[string]float64),
		known:     make(map[goalKey]bool),
		asked:     make(map[goalKey]bool),
	}
}

// CreateInstance allocates a new instance of a context. For single-instance
// contexts this is idempotent: the existing instance is returned.
func (m *Memory) CreateInstance(c *kb.Context) (*Instance, bool) {
	if existing := m.instances[c.Name]; len(existing) > 0 && !c.Multi {
		return existing[len(existing)-1], false
	}
	inst := &Instance{
		ID:      ulid.MustNew(ulid.Now(), m.entropy).String(),
		Context: c.Name,
		Seq:     len(m.instances[c.Name]),
	}
	m.instances[c.Name] = append(m.instances[c.Name], inst)
	return inst, true
}

// InstancesOf returns the live instances of a context in creation order.
func (m *Memory) InstancesOf(context string) []*Instance {
	out := make([]*Instance, len(m.instances[context]))
	copy(out, m.instances[context])
	return out
}

// CurrentInstance returns the most recently created instance of a context.
func (m *Memory) CurrentInstance(context string) (*Instance, bool) {
	insts := m.instances[context]
	if len(insts) == 0 {
		return nil, false
	}
	return insts[len(insts)-1], true
}

// Values returns the raw value -> certainty map for a goal. The map is the
// live record; callers must not mutate it.
func (m *Memory) Values(inst *Instance, param string) map[string]float64 {
	return m.values[goalKey{inst.ID, param}]
}

// Update folds one piece of evidence into a goal's record and returns the
// combined certainty for the value.
func (m *Memory) Update(inst *Instance, param, value string, certainty float64) float64 {
	key := goalKey{inst.ID, param}
	vals := m.values[key]
	if vals == nil {
		vals = make(map[string]float64)
		m.values[key] = vals
	}
	combined := cf.Combine(vals[value], certainty)
	vals[value] = combined
	return combined
}

// Fact snapshots a goal's values, strongest first.
func (m *Memory) Fact(inst *Instance, param string) Fact {
	vals := m.values[goalKey{inst.ID, param}]
	f := Fact{Instance: inst, Param: param}
	for v, c := range vals {
		f.Values = append(f.Values, ValueCF{Value: v, CF: c})
	}
	sort.Slice(f.Values, func(i, j int) bool {
		if f.Values[i].CF != f.Values[j].CF {
			return f.Values[i].CF > f.Values[j].CF
		}
		return f.Values[i].Value < f.Values[j].Value
	})
	return f
}

// MarkKnown records that a goal is fully resolved for this session.
func (m *Memory) MarkKnown(inst *Instance, param string) {
	m.known[goalKey{inst.ID, param}] = true
}

// IsKnown reports whether a goal was already resolved.
func (m *Memory) IsKnown(inst *Instance, param string) bool {
	return m.known[goalKey{inst.ID, param}]
}

// MarkAsked records that the operator was asked about a goal. A goal is
// asked at most once per session, whatever the answer.
func (m *Memory) MarkAsked(inst *Instance, param string) {
	m.asked[goalKey{inst.ID, param}] = true
}

// WasAsked reports whether the operator was already asked about a goal.
func (m *Memory) WasAsked(inst *Instance, param string) bool {
	return m.asked[goalKey{inst.ID, param}]
}
