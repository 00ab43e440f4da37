package querylog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/policytxn/core/policy"
	"github.com/sushant-115/policytxn/core/protocol"
)

func filled(t *testing.T, versions ...policy.Version) *Log {
	t.Helper()
	l := New()
	for i, v := range versions {
		require.NoError(t, l.Append(Entry{Kind: protocol.OpRead, TxnID: 1, Seq: uint64(i + 1), Version: v}))
	}
	return l
}

func TestAppend_RejectsDuplicateSequence(t *testing.T) {
	l := filled(t, 1, 1)
	err := l.Append(Entry{Kind: protocol.OpWrite, TxnID: 1, Seq: 2, Version: 1})
	require.ErrorIs(t, err, ErrDuplicate)
	require.NoError(t, l.Append(Entry{Kind: protocol.OpWrite, TxnID: 2, Seq: 2, Version: 1}))
	require.Equal(t, 3, l.Len())
}

func TestReauthorize_SkipsEntriesAtTarget(t *testing.T) {
	l := filled(t, 1, 2, 1)
	calls := 0
	ok := l.Reauthorize(2, func() bool { calls++; return true })
	require.True(t, ok)
	require.Equal(t, 2, calls)
	for _, e := range l.Entries() {
		require.Equal(t, policy.Version(2), e.Version)
	}

	ok = l.Reauthorize(2, func() bool { calls++; return true })
	require.True(t, ok)
	require.Equal(t, 2, calls, "second sweep at the same version must not re-check")
}

func TestReauthorize_StopsAtFirstFailureInOrder(t *testing.T) {
	l := filled(t, 1, 1, 1, 1)
	verdicts := []bool{true, false, true}
	calls := 0
	ok := l.Reauthorize(3, func() bool {
		v := verdicts[calls]
		calls++
		return v
	})
	require.False(t, ok)
	require.Equal(t, 2, calls)

	entries := l.Entries()
	require.Equal(t, policy.Version(3), entries[0].Version)
	require.Equal(t, policy.Version(1), entries[1].Version)
	require.Equal(t, policy.Version(1), entries[3].Version)
}

func TestReauthorize_EmptyLog(t *testing.T) {
	require.True(t, New().Reauthorize(5, func() bool { return false }))
}
