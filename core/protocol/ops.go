// Package protocol is the node wire grammar: one text payload per line,
// either a control message or a comma-separated group of operations.
package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sushant-115/policytxn/core/policy"
)

// OpKind identifies an operation inside a group.
type OpKind int

const (
	OpBegin OpKind = iota
	OpRead
	OpWrite
	OpPassedRead
	OpPassedWrite
	OpRunAuths
	OpGetVersion
	OpPrepareToCommit
	OpCommit
	OpSetRandomPeer
	OpSleep
	OpExit
)

var opTokens = map[OpKind]string{
	OpBegin:           "B",
	OpRead:            "R",
	OpWrite:           "W",
	OpPassedRead:      "PASSR",
	OpPassedWrite:     "PASSW",
	OpRunAuths:        "RUNAUTHS",
	OpGetVersion:      "VERSION",
	OpPrepareToCommit: "PTC",
	OpCommit:          "C",
	OpSetRandomPeer:   "RSERV",
	OpSleep:           "S",
	OpExit:            "EXIT",
}

var tokenOps = func() map[string]OpKind {
	m := make(map[string]OpKind, len(opTokens))
	for k, tok := range opTokens {
		m[tok] = k
	}
	return m
}()

// Token returns the wire token of k.
func (k OpKind) Token() string {
	if tok, ok := opTokens[k]; ok {
		return tok
	}
	return "OpKind(" + strconv.Itoa(int(k)) + ")"
}

func (k OpKind) String() string {
	switch k {
	case OpBegin:
		return "BEGIN"
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpPassedRead:
		return "PASSED_READ"
	case OpPassedWrite:
		return "PASSED_WRITE"
	case OpRunAuths:
		return "RUN_AUTHS"
	case OpGetVersion:
		return "GET_VERSION"
	case OpPrepareToCommit:
		return "PREPARE_TO_COMMIT"
	case OpCommit:
		return "COMMIT"
	case OpSetRandomPeer:
		return "SET_RANDOM_PEER"
	case OpSleep:
		return "SLEEP"
	case OpExit:
		return "EXIT"
	}
	return k.Token()
}

// IsAccess reports whether k reads or writes data.
func (k OpKind) IsAccess() bool {
	return k == OpRead || k == OpWrite || k == OpPassedRead || k == OpPassedWrite
}

// IsPassed reports whether k arrived routed from a peer.
func (k OpKind) IsPassed() bool {
	return k == OpPassedRead || k == OpPassedWrite
}

// IsWrite reports whether k is a write, routed or not.
func (k OpKind) IsWrite() bool {
	return k == OpWrite || k == OpPassedWrite
}

// Operation is one instruction of a group. Which fields are meaningful
// depends on Kind.
type Operation struct {
	Kind  OpKind
	TxnID uint64
	Node  int
	Seq   uint64
	// Version is the argument of RUNAUTHS and PTC.
	Version    policy.Version
	HasVersion bool
	// Millis is the argument of S.
	Millis int64
}

// Passed returns the routed form of a READ or WRITE.
func (o Operation) Passed() Operation {
	switch o.Kind {
	case OpRead:
		o.Kind = OpPassedRead
	case OpWrite:
		o.Kind = OpPassedWrite
	}
	return o
}

// String encodes o back into its wire token.
func (o Operation) String() string {
	tok := o.Kind.Token()
	switch o.Kind {
	case OpRead, OpWrite, OpPassedRead, OpPassedWrite:
		return fmt.Sprintf("%s %d %d %d", tok, o.TxnID, o.Node, o.Seq)
	case OpBegin, OpCommit:
		return fmt.Sprintf("%s %d", tok, o.TxnID)
	case OpRunAuths:
		return tok + " " + o.Version.String()
	case OpPrepareToCommit:
		if o.HasVersion {
			return tok + " " + o.Version.String()
		}
		return tok
	case OpSetRandomPeer:
		return tok + " " + strconv.Itoa(o.Node)
	case OpSleep:
		return tok + " " + strconv.FormatInt(o.Millis, 10)
	default:
		return tok
	}
}

// EncodeGroup joins operations into one payload.
func EncodeGroup(ops ...Operation) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = op.String()
	}
	return strings.Join(parts, ",")
}
