package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sushant-115/policytxn/core/policy"
)

// ValidationMode selects the commit protocol.
type ValidationMode int

const (
	TwoPhaseOnly ValidationMode = iota
	ViewStrict
	ViewRelaxed
	GlobalStrict
	GlobalRelaxed
)

func (m ValidationMode) String() string {
	switch m {
	case TwoPhaseOnly:
		return "2pc"
	case ViewStrict:
		return "view-strict"
	case ViewRelaxed:
		return "view-relaxed"
	case GlobalStrict:
		return "global-strict"
	case GlobalRelaxed:
		return "global-relaxed"
	}
	return "ValidationMode(" + strconv.Itoa(int(m)) + ")"
}

// Valid reports whether m names a known protocol.
func (m ValidationMode) Valid() bool {
	return m >= TwoPhaseOnly && m <= GlobalRelaxed
}

// IsView reports whether m needs participants to agree among themselves.
func (m ValidationMode) IsView() bool {
	return m == ViewStrict || m == ViewRelaxed
}

// IsGlobal reports whether m checks against the authority's version.
func (m ValidationMode) IsGlobal() bool {
	return m == GlobalStrict || m == GlobalRelaxed
}

// Proof is when policy proofs are evaluated. Only Incremental changes engine
// behavior; the others are recorded for the results log.
type Proof int

const (
	Punctual Proof = iota
	Incremental
	Continuous
	Deferred
)

var proofNames = []string{"punctual", "incremental", "continuous", "deferred"}

func (p Proof) String() string {
	if p >= 0 && int(p) < len(proofNames) {
		return proofNames[p]
	}
	return "Proof(" + strconv.Itoa(int(p)) + ")"
}

// ParseProof accepts a proof name or its number.
func ParseProof(s string) (Proof, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= len(proofNames) {
			return Punctual, fmt.Errorf("proof %d out of range", n)
		}
		return Proof(n), nil
	}
	for i, name := range proofNames {
		if s == name {
			return Proof(i), nil
		}
	}
	return Punctual, fmt.Errorf("unknown proof %q", s)
}

// Parameters is the node-wide protocol configuration set by PARAMETERS.
type Parameters struct {
	Proof          Proof
	ValidationMode ValidationMode
	PushMode       policy.PushMode
}

// String encodes p as the arguments of a PARAMETERS message.
func (p Parameters) String() string {
	return fmt.Sprintf("%s %d %d", p.Proof, int(p.ValidationMode), int(p.PushMode))
}
