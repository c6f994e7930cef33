package kb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gene-999/emycin/pkg/emycin/internalerr"
)

// DomainKind distinguishes enumerated value domains from typed free domains.
type DomainKind int

const (
	DomainEnum DomainKind = iota
	DomainString
	DomainInt
	DomainBool
)

// Domain describes the legal values of a parameter: either an enumeration or
// a typed free domain validated at parse time.
type Domain struct {
	Kind   DomainKind
	Values []string // for DomainEnum
}

// EnumDomain builds an enumerated domain.
func EnumDomain(values ...string) Domain {
	return Domain{Kind: DomainEnum, Values: values}
}

// Parameter is an attribute of a context. Askable parameters may be posed as
// direct questions; AskFirst ones are asked before rules are tried (the
// natural order for demographics). Priority, when non-zero, overrides
// declaration order for question batching, ascending.
type Parameter struct {
	Name     string
	Context  string
	Domain   Domain
	Askable  bool
	AskFirst bool
	Priority int
}

// TypeString describes the legal values, for the "?" command.
func (p *Parameter) TypeString() string {
	switch p.Domain.Kind {
	case DomainString:
		return "string"
	case DomainInt:
		return "int"
	case DomainBool:
		return "bool"
	default:
		return "(" + strings.Join(p.Domain.Values, ", ") + ")"
	}
}

// Parse validates a raw answer against the domain and returns its canonical
// form. Out-of-domain values are rejected so they never reach working memory.
func (p *Parameter) Parse(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty value for %s", internalerr.ErrInvalidInput, p.Name)
	}
	switch p.Domain.Kind {
	case DomainString:
		return raw, nil
	case DomainInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %s must be an integer, got %q",
				internalerr.ErrInvalidInput, p.Name, raw)
		}
		return strconv.Itoa(n), nil
	case DomainBool:
		switch raw {
		case "True", "true", "yes":
			return "True", nil
		case "False", "false", "no":
			return "False", nil
		}
		return "", fmt.Errorf("%w: %s must be True or False, got %q",
			internalerr.ErrInvalidInput, p.Name, raw)
	default:
		for _, v := range p.Domain.Values {
			if raw == v {
				return v, nil
			}
		}
		return "", fmt.Errorf("%w: %s must be one of %s, got %q",
			internalerr.ErrInvalidInput, p.Name, p.TypeString(), raw)
	}
}

// Op is a relational operator used in rule clauses. Ordering operators
// compare numerically.
type Op string

const (
	OpEq Op = "eq"
	OpNe Op = "ne"
	OpLt Op = "lt"
	OpLe Op = "le"
	OpGt Op = "gt"
	OpGe Op = "ge"
)

// ParseOp validates an operator name.
func ParseOp(s string) (Op, error) {
	switch Op(s) {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return Op(s), nil
	case "":
		return OpEq, nil
	}
	return "", fmt.Errorf("%w: unknown operator %q", internalerr.ErrInvalidInput, s)
}

// Eval applies the operator to a known value and a comparison value.
func (o Op) Eval(known, cmp string) bool {
	switch o {
	case OpEq:
		return known == cmp
	case OpNe:
		return known != cmp
	}
	a, errA := strconv.ParseFloat(known, 64)
	b, errB := strconv.ParseFloat(cmp, 64)
	if errA != nil || errB != nil {
		return false
	}
	switch o {
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	case OpGe:
		return a >= b
	}
	return false
}
