package protocol

import (
	"strconv"
	"strings"
	"time"

	"github.com/sushant-115/policytxn/core/policy"
)

// Abort reasons. These strings are part of the wire contract.
const (
	ReasonTxnConsistency    = "TXN_CONSISTENCY_FAIL"
	ReasonLocalPolicy       = "LOCAL_POLICY_FAIL"
	ReasonViewConsistency   = "VIEW_CONSISTENCY_FAIL"
	ReasonGlobalConsistency = "GLOBAL_CONSISTENCY_FAIL"
	ReasonPTCNo             = "PTC_RESPONSE_NO"
	ReasonPTCFalse          = "PTC_RESPONSE_FALSE"
	ReasonLocalAuth         = "LOCAL_AUTHORIZATION_FAIL"
	ReasonUnknownMode       = "UNKNOWN_MODE"
)

// Reply status words.
const (
	StatusAck     = "ACK"
	StatusAbort   = "ABORT"
	StatusCommit  = "COMMIT"
	StatusTrue    = "TRUE"
	StatusFalse   = "FALSE"
	StatusFail    = "FAIL"
	StatusVersion = "VERSION"
	StatusYes     = "YES"
	StatusNo      = "NO"
	StatusFin     = "FIN"
)

// Fixed replies.
const (
	ReplyAck    = StatusAck
	ReplyCommit = StatusCommit
	ReplyTrue   = StatusTrue
	ReplyFalse  = StatusFalse
	ReplyFail   = StatusFail

	ReplyYes      = StatusYes
	ReplyYesTrue  = StatusYes + " " + StatusTrue
	ReplyYesFalse = StatusYes + " " + StatusFalse
	ReplyNo       = StatusNo
	ReplyNoFalse  = StatusNo + " " + StatusFalse
)

// Ack acknowledges a data access with the version it ran under.
func Ack(v policy.Version) string { return StatusAck + " " + v.String() }

// Abort fails a group or a commit with reason.
func Abort(reason string) string { return StatusAbort + " " + reason }

// VersionReply answers VERSION.
func VersionReply(v policy.Version) string { return StatusVersion + " " + v.String() }

// YesVersion is a view-consistency prepare vote.
func YesVersion(v policy.Version) string { return StatusYes + " " + v.String() }

// Truth renders a re-authorization verdict.
func Truth(ok bool) string {
	if ok {
		return ReplyTrue
	}
	return ReplyFalse
}

// Fin closes a session. The simulated time is only reported in logical mode.
func Fin(elapsed time.Duration, report bool) string {
	if !report {
		return StatusFin
	}
	return StatusFin + " " + strconv.FormatInt(elapsed.Milliseconds(), 10)
}

// Reply is a parsed reply line.
type Reply struct {
	Status string
	Args   []string
}

// ParseReply splits a reply line. It never fails; an empty line yields an
// empty Status.
func ParseReply(line string) Reply {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return Reply{}
	}
	return Reply{Status: parts[0], Args: parts[1:]}
}

// Failed reports whether the reply ends a group early.
func (r Reply) Failed() bool {
	switch r.Status {
	case StatusAbort, StatusFalse, StatusFail, StatusNo:
		return true
	}
	return false
}

// Version returns the first argument as a policy version.
func (r Reply) Version() (policy.Version, bool) {
	if len(r.Args) == 0 {
		return policy.Unbound, false
	}
	v, err := policy.ParseVersion(r.Args[0])
	if err != nil {
		return policy.Unbound, false
	}
	return v, true
}

// Reason returns the abort reason, if any.
func (r Reply) Reason() string {
	if r.Status != StatusAbort || len(r.Args) == 0 {
		return ""
	}
	return r.Args[0]
}

// Arg returns argument i or "".
func (r Reply) Arg(i int) string {
	if i < len(r.Args) {
		return r.Args[i]
	}
	return ""
}

func (r Reply) String() string {
	return strings.TrimSpace(r.Status + " " + strings.Join(r.Args, " "))
}
