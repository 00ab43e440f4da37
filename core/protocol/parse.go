package protocol

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sushant-115/policytxn/core/policy"
)

// ErrMalformed wraps every parse failure.
var ErrMalformed = errors.New("malformed payload")

// maxSleepMillis is the longest S argument that fits a time.Duration.
const maxSleepMillis = math.MaxInt64 / int64(time.Millisecond)

// ControlKind identifies a top-level control message.
type ControlKind int

const (
	ControlDone ControlKind = iota + 1
	ControlKill
	ControlPolicyUpdate
	ControlParameters
)

func (k ControlKind) String() string {
	switch k {
	case ControlDone:
		return "DONE"
	case ControlKill:
		return "KILL"
	case ControlPolicyUpdate:
		return "POLICYUPDATE"
	case ControlParameters:
		return "PARAMETERS"
	}
	return "ControlKind(" + strconv.Itoa(int(k)) + ")"
}

// Control is a control message. Version is set for POLICYUPDATE and Params
// for PARAMETERS.
type Control struct {
	Kind    ControlKind
	Version policy.Version
	Params  Parameters
}

// Message is one parsed payload: exactly one of Control or Group is set.
type Message struct {
	Control *Control
	Group   []Operation
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// ParseMessage parses one payload with its trailing newline already removed.
func ParseMessage(payload string) (Message, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Message{}, malformed("empty payload")
	}
	if c, ok, err := parseControl(payload); ok || err != nil {
		if err != nil {
			return Message{}, err
		}
		return Message{Control: &c}, nil
	}
	var group []Operation
	for _, raw := range strings.Split(payload, ",") {
		op, err := ParseOperation(raw)
		if err != nil {
			return Message{}, err
		}
		group = append(group, op)
	}
	return Message{Group: group}, nil
}

func parseControl(payload string) (Control, bool, error) {
	parts := strings.Fields(payload)
	switch parts[0] {
	case "DONE":
		return Control{Kind: ControlDone}, true, expectArgs(parts, 0)
	case "KILL":
		return Control{Kind: ControlKill}, true, expectArgs(parts, 0)
	case "POLICYUPDATE":
		if err := expectArgs(parts, 1); err != nil {
			return Control{}, true, err
		}
		v, err := policy.ParseVersion(parts[1])
		if err != nil {
			return Control{}, true, malformed("POLICYUPDATE version %q", parts[1])
		}
		return Control{Kind: ControlPolicyUpdate, Version: v}, true, nil
	case "PARAMETERS":
		if err := expectArgs(parts, 3); err != nil {
			return Control{}, true, err
		}
		params, err := parseParameters(parts[1], parts[2], parts[3])
		if err != nil {
			return Control{}, true, err
		}
		return Control{Kind: ControlParameters, Params: params}, true, nil
	}
	return Control{}, false, nil
}

func parseParameters(proof, mode, push string) (Parameters, error) {
	p, err := ParseProof(proof)
	if err != nil {
		return Parameters{}, malformed("PARAMETERS %v", err)
	}
	// Out-of-range validation modes are accepted here and rejected at
	// commit time with UNKNOWN_MODE.
	m, err := strconv.Atoi(mode)
	if err != nil || m < 0 {
		return Parameters{}, malformed("PARAMETERS validation mode %q", mode)
	}
	s, err := strconv.Atoi(push)
	if err != nil || !policy.PushMode(s).Valid() {
		return Parameters{}, malformed("PARAMETERS push mode %q", push)
	}
	return Parameters{Proof: p, ValidationMode: ValidationMode(m), PushMode: policy.PushMode(s)}, nil
}

func expectArgs(parts []string, n int) error {
	if len(parts)-1 != n {
		return malformed("%s takes %d argument(s), got %d", parts[0], n, len(parts)-1)
	}
	return nil
}

// ParseOperation parses one space-separated operation token.
func ParseOperation(raw string) (Operation, error) {
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return Operation{}, malformed("empty operation")
	}
	kind, ok := tokenOps[parts[0]]
	if !ok {
		return Operation{}, malformed("unknown operation %q", parts[0])
	}
	op := Operation{Kind: kind}
	var err error
	switch kind {
	case OpRead, OpWrite, OpPassedRead, OpPassedWrite:
		if err = expectArgs(parts, 3); err != nil {
			return Operation{}, err
		}
		if op.TxnID, err = parseUint(parts[0], parts[1]); err != nil {
			return Operation{}, err
		}
		if op.Node, err = parseNode(parts[0], parts[2]); err != nil {
			return Operation{}, err
		}
		if op.Seq, err = parseUint(parts[0], parts[3]); err != nil {
			return Operation{}, err
		}
	case OpBegin, OpCommit:
		if err = expectArgs(parts, 1); err != nil {
			return Operation{}, err
		}
		if op.TxnID, err = parseUint(parts[0], parts[1]); err != nil {
			return Operation{}, err
		}
	case OpRunAuths:
		if err = expectArgs(parts, 1); err != nil {
			return Operation{}, err
		}
		if op.Version, err = parseVersion(parts[0], parts[1]); err != nil {
			return Operation{}, err
		}
		op.HasVersion = true
	case OpPrepareToCommit:
		if len(parts) > 2 {
			return Operation{}, malformed("PTC takes at most one argument")
		}
		if len(parts) == 2 {
			if op.Version, err = parseVersion(parts[0], parts[1]); err != nil {
				return Operation{}, err
			}
			op.HasVersion = true
		}
	case OpSetRandomPeer:
		if err = expectArgs(parts, 1); err != nil {
			return Operation{}, err
		}
		if op.Node, err = parseNode(parts[0], parts[1]); err != nil {
			return Operation{}, err
		}
	case OpSleep:
		if err = expectArgs(parts, 1); err != nil {
			return Operation{}, err
		}
		ms, perr := strconv.ParseInt(parts[1], 10, 64)
		if perr != nil || ms < 0 || ms > maxSleepMillis {
			return Operation{}, malformed("S duration %q", parts[1])
		}
		op.Millis = ms
	case OpGetVersion, OpExit:
		if err = expectArgs(parts, 0); err != nil {
			return Operation{}, err
		}
	}
	return op, nil
}

func parseUint(tok, s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, malformed("%s: bad number %q", tok, s)
	}
	return n, nil
}

func parseNode(tok, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, malformed("%s: bad node id %q", tok, s)
	}
	return n, nil
}

func parseVersion(tok, s string) (policy.Version, error) {
	v, err := policy.ParseVersion(s)
	if err != nil {
		return policy.Unbound, malformed("%s: bad version %q", tok, s)
	}
	return v, nil
}
