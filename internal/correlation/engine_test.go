package correlation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rafavidel1/elevator-gateway/internal/codec"
)

func mustToken(t *testing.T) Token {
	t.Helper()
	tok, err := NewToken(4)
	require.NoError(t, err)
	return tok
}

func TestRegister_AndMatchAndRemove(t *testing.T) {
	tbl := NewTable(zap.NewNop(), 4, time.Second, 3)
	tok := mustToken(t)
	rec := NewRecord(tok, codec.KindFloorCall, Origin{Kind: OriginBus, FrameID: codec.FrameFloorCall}, SnapshotHints{}, time.Now(), time.Second, 3)
	require.NoError(t, tbl.Register(rec))
	require.Equal(t, 1, tbl.Len())

	got, ok := tbl.MatchAndRemove(tok)
	require.True(t, ok)
	require.Equal(t, codec.KindFloorCall, got.Kind)
	require.Equal(t, 0, tbl.Len())
}

func TestMatchAndRemove_NoMatchReturnsFalse(t *testing.T) {
	tbl := NewTable(zap.NewNop(), 4, time.Second, 3)
	_, ok := tbl.MatchAndRemove(mustToken(t))
	require.False(t, ok)
}

// Correlation uniqueness: matching one token never removes another.
func TestMatchAndRemove_DoesNotRemoveOtherTokens(t *testing.T) {
	tbl := NewTable(zap.NewNop(), 4, time.Second, 3)
	tokA := mustToken(t)
	tokB := mustToken(t)
	require.NoError(t, tbl.Register(NewRecord(tokA, codec.KindFloorCall, Origin{}, SnapshotHints{}, time.Now(), time.Second, 3)))
	require.NoError(t, tbl.Register(NewRecord(tokB, codec.KindCabinRequest, Origin{}, SnapshotHints{}, time.Now(), time.Second, 3)))

	_, ok := tbl.MatchAndRemove(tokA)
	require.True(t, ok)
	require.Equal(t, 1, tbl.Len())

	gotB, ok := tbl.MatchAndRemove(tokB)
	require.True(t, ok)
	require.Equal(t, codec.KindCabinRequest, gotB.Kind)
}

// Boundary: max_pending exactly full rejects the next register; freeing a
// slot admits it.
func TestRegister_TooManyPending(t *testing.T) {
	tbl := NewTable(zap.NewNop(), 2, time.Second, 3)
	tokA := mustToken(t)
	tokB := mustToken(t)
	require.NoError(t, tbl.Register(NewRecord(tokA, codec.KindFloorCall, Origin{}, SnapshotHints{}, time.Now(), time.Second, 3)))
	require.NoError(t, tbl.Register(NewRecord(tokB, codec.KindFloorCall, Origin{}, SnapshotHints{}, time.Now(), time.Second, 3)))

	tokC := mustToken(t)
	err := tbl.Register(NewRecord(tokC, codec.KindFloorCall, Origin{}, SnapshotHints{}, time.Now(), time.Second, 3))
	require.ErrorIs(t, err, ErrTooManyPending)

	_, ok := tbl.MatchAndRemove(tokA)
	require.True(t, ok)
	require.NoError(t, tbl.Register(NewRecord(tokC, codec.KindFloorCall, Origin{}, SnapshotHints{}, time.Now(), time.Second, 3)))
}

func TestRegister_ClonesTokenBytes(t *testing.T) {
	tbl := NewTable(zap.NewNop(), 4, time.Second, 3)
	tok := mustToken(t)
	rec := NewRecord(tok, codec.KindFloorCall, Origin{}, SnapshotHints{}, time.Now(), time.Second, 3)
	require.NoError(t, tbl.Register(rec))

	orig := append(Token(nil), tok...)
	tok[0] ^= 0xFF // mutate the source buffer after registration
	got, ok := tbl.MatchAndRemove(orig)
	require.True(t, ok)
	require.Equal(t, codec.KindFloorCall, got.Kind)
}

func TestSweep_RetriesBeforeExhaustion(t *testing.T) {
	tbl := NewTable(zap.NewNop(), 4, 10*time.Millisecond, 1)
	tok := mustToken(t)
	past := time.Now().Add(-time.Hour)
	rec := NewRecord(tok, codec.KindFloorCall, Origin{}, SnapshotHints{}, past, 10*time.Millisecond, 1)
	require.NoError(t, tbl.Register(rec))

	outcomes, err := tbl.Sweep(time.Now(), func() (Token, error) { return NewToken(4) })
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Retried)
	require.Equal(t, 0, outcomes[0].NewRecord.RetriesRemaining)
	require.Equal(t, 1, tbl.Len())
}

func TestSweep_ExhaustedSurfacesTimeout(t *testing.T) {
	tbl := NewTable(zap.NewNop(), 4, 10*time.Millisecond, 0)
	tok := mustToken(t)
	past := time.Now().Add(-time.Hour)
	rec := NewRecord(tok, codec.KindFloorCall, Origin{}, SnapshotHints{}, past, 10*time.Millisecond, 0)
	require.NoError(t, tbl.Register(rec))

	outcomes, err := tbl.Sweep(time.Now(), func() (Token, error) { return NewToken(4) })
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.False(t, outcomes[0].Retried)
	require.Equal(t, 0, tbl.Len())
}

func TestSweep_DoesNotTouchLiveRecords(t *testing.T) {
	tbl := NewTable(zap.NewNop(), 4, time.Hour, 3)
	tok := mustToken(t)
	rec := NewRecord(tok, codec.KindFloorCall, Origin{}, SnapshotHints{}, time.Now(), time.Hour, 3)
	require.NoError(t, tbl.Register(rec))

	outcomes, err := tbl.Sweep(time.Now(), func() (Token, error) { return NewToken(4) })
	require.NoError(t, err)
	require.Empty(t, outcomes)
	require.Equal(t, 1, tbl.Len())
}

// A reply arriving after its token's record already expired and was swept
// is discarded without mutating state -- modeled here as MatchAndRemove
// returning false once the sweep has already removed the record.
func TestMatchAndRemove_AfterSweepTimeout(t *testing.T) {
	tbl := NewTable(zap.NewNop(), 4, 10*time.Millisecond, 0)
	tok := mustToken(t)
	past := time.Now().Add(-time.Hour)
	rec := NewRecord(tok, codec.KindFloorCall, Origin{}, SnapshotHints{}, past, 10*time.Millisecond, 0)
	require.NoError(t, tbl.Register(rec))

	_, err := tbl.Sweep(time.Now(), func() (Token, error) { return NewToken(4) })
	require.NoError(t, err)

	_, ok := tbl.MatchAndRemove(tok)
	require.False(t, ok)
}

func TestDrain_ReturnsAllAndEmpties(t *testing.T) {
	tbl := NewTable(zap.NewNop(), 4, time.Second, 3)
	require.NoError(t, tbl.Register(NewRecord(mustToken(t), codec.KindFloorCall, Origin{}, SnapshotHints{}, time.Now(), time.Second, 3)))
	require.NoError(t, tbl.Register(NewRecord(mustToken(t), codec.KindCabinRequest, Origin{}, SnapshotHints{}, time.Now(), time.Second, 3)))

	drained := tbl.Drain()
	require.Len(t, drained, 2)
	require.Equal(t, 0, tbl.Len())
}

func TestNewRecord_DeadlineAfterCreatedAt(t *testing.T) {
	now := time.Now()
	rec := NewRecord(mustToken(t), codec.KindFloorCall, Origin{}, SnapshotHints{}, now, 5*time.Second, 3)
	require.True(t, rec.Deadline.After(rec.CreatedAt))
	require.GreaterOrEqual(t, rec.RetriesRemaining, 0)
}
