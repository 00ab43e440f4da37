package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/policytxn/core/policy"
)

func TestParseMessage_Group(t *testing.T) {
	msg, err := ParseMessage("B 9,R 9 1 1, W 9 2 2,S 15,RSERV 3,PTC,PTC 4,RUNAUTHS 7,VERSION,C 9,EXIT")
	require.NoError(t, err)
	require.Nil(t, msg.Control)
	require.Len(t, msg.Group, 11)

	require.Equal(t, Operation{Kind: OpBegin, TxnID: 9}, msg.Group[0])
	require.Equal(t, Operation{Kind: OpRead, TxnID: 9, Node: 1, Seq: 1}, msg.Group[1])
	require.Equal(t, Operation{Kind: OpWrite, TxnID: 9, Node: 2, Seq: 2}, msg.Group[2])
	require.Equal(t, int64(15), msg.Group[3].Millis)
	require.Equal(t, 3, msg.Group[4].Node)
	require.False(t, msg.Group[5].HasVersion)
	require.True(t, msg.Group[6].HasVersion)
	require.Equal(t, policy.Version(4), msg.Group[6].Version)
	require.Equal(t, policy.Version(7), msg.Group[7].Version)
	require.Equal(t, OpGetVersion, msg.Group[8].Kind)
	require.Equal(t, OpCommit, msg.Group[9].Kind)
	require.Equal(t, OpExit, msg.Group[10].Kind)
}

func TestParseMessage_Controls(t *testing.T) {
	msg, err := ParseMessage("POLICYUPDATE 12")
	require.NoError(t, err)
	require.Equal(t, &Control{Kind: ControlPolicyUpdate, Version: 12}, msg.Control)

	msg, err = ParseMessage("PARAMETERS incremental 2 1")
	require.NoError(t, err)
	require.Equal(t, Parameters{Proof: Incremental, ValidationMode: ViewRelaxed, PushMode: policy.PushOne}, msg.Control.Params)

	msg, err = ParseMessage("PARAMETERS 3 9 0")
	require.NoError(t, err)
	require.Equal(t, Deferred, msg.Control.Params.Proof)
	require.False(t, msg.Control.Params.ValidationMode.Valid())

	for _, raw := range []string{"DONE", "KILL"} {
		msg, err = ParseMessage(raw)
		require.NoError(t, err)
		require.Equal(t, raw, msg.Control.Kind.String())
	}
}

func TestParseMessage_Malformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"R 1 2",
		"R x 1 1",
		"W 1 -1 1",
		"Q 1",
		"R 1 1 1,,W 1 1 2",
		"PTC 1 2",
		"POLICYUPDATE",
		"POLICYUPDATE abc",
		"PARAMETERS sometimes 0 0",
		"PARAMETERS 0 0 9",
		"S -4",
		"S 9223372036855",
		"EXIT now",
		"KILL 1",
	} {
		_, err := ParseMessage(raw)
		require.ErrorIs(t, err, ErrMalformed, "payload %q", raw)
	}
}

func TestParseOperation_LongestSleep(t *testing.T) {
	op, err := ParseOperation("S 9223372036854")
	require.NoError(t, err)
	require.Positive(t, time.Duration(op.Millis)*time.Millisecond)
}

func TestOperation_StringRoundTrip(t *testing.T) {
	ops := []Operation{
		{Kind: OpRead, TxnID: 1, Node: 2, Seq: 3},
		{Kind: OpPassedWrite, TxnID: 1, Node: 2, Seq: 4},
		{Kind: OpPrepareToCommit, Version: 5, HasVersion: true},
		{Kind: OpPrepareToCommit},
		{Kind: OpRunAuths, Version: 6, HasVersion: true},
		{Kind: OpSleep, Millis: 20},
	}
	msg, err := ParseMessage(EncodeGroup(ops...))
	require.NoError(t, err)
	require.Equal(t, ops, msg.Group)
}

func TestOperation_Passed(t *testing.T) {
	op := Operation{Kind: OpWrite, TxnID: 3, Node: 2, Seq: 8}
	require.Equal(t, "PASSW 3 2 8", op.Passed().String())
	require.Equal(t, "PASSR 3 2 8", Operation{Kind: OpRead, TxnID: 3, Node: 2, Seq: 8}.Passed().String())
	require.Equal(t, OpCommit, Operation{Kind: OpCommit}.Passed().Kind)
}

func TestReplies(t *testing.T) {
	require.Equal(t, "ACK 4", Ack(4))
	require.Equal(t, "ABORT VIEW_CONSISTENCY_FAIL", Abort(ReasonViewConsistency))
	require.Equal(t, "FIN", Fin(time.Second, false))
	require.Equal(t, "FIN 1500", Fin(1500*time.Millisecond, true))
	require.Equal(t, "YES 3", YesVersion(3))

	r := ParseReply("ABORT LOCAL_POLICY_FAIL")
	require.True(t, r.Failed())
	require.Equal(t, ReasonLocalPolicy, r.Reason())

	r = ParseReply("VERSION 11")
	require.False(t, r.Failed())
	v, ok := r.Version()
	require.True(t, ok)
	require.Equal(t, policy.Version(11), v)

	r = ParseReply("YES FALSE")
	_, ok = r.Version()
	require.False(t, ok)
	require.Equal(t, StatusFalse, r.Arg(0))

	require.True(t, ParseReply("NO").Failed())
	require.True(t, ParseReply("FAIL").Failed())
	require.Equal(t, Reply{}, ParseReply("  "))
}

func TestParseProof(t *testing.T) {
	p, err := ParseProof("2")
	require.NoError(t, err)
	require.Equal(t, Continuous, p)
	_, err = ParseProof("7")
	require.Error(t, err)
	require.Equal(t, "deferred 3 2", Parameters{Proof: Deferred, ValidationMode: GlobalStrict, PushMode: policy.PushAll}.String())
}
