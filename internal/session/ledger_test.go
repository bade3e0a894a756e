package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerStartStop(t *testing.T) {
	l := NewLedger()
	assert.False(t, l.IsEditing("P", "weapons", "sword"))

	l.Start("P", "weapons", "sword")
	l.Start("P", "weapons", "axe")
	l.Start("P", "tools", "pick")

	assert.True(t, l.IsEditing("P", "weapons", "sword"))
	assert.Equal(t, 3, l.Len())

	l.StopItem("P", "weapons", "sword")
	assert.False(t, l.IsEditing("P", "weapons", "sword"))
	assert.True(t, l.IsEditing("P", "weapons", "axe"))
}

func TestLedgerPrunesEmptyLevels(t *testing.T) {
	l := NewLedger()
	l.Start("P", "weapons", "sword")

	l.StopItem("P", "weapons", "sword")
	assert.Equal(t, 0, l.Len())
	assert.Empty(t, l.Triples())

	// Internal maps must be pruned, not just emptied: restarting after a
	// full drain works from scratch.
	l.Start("P", "weapons", "sword")
	assert.Equal(t, 1, l.Len())
}

func TestLedgerStopLibrary(t *testing.T) {
	l := NewLedger()
	l.Start("P", "weapons", "sword")
	l.Start("P", "weapons", "axe")
	l.Start("P", "tools", "pick")

	l.StopLibrary("P", "weapons")
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.IsEditing("P", "tools", "pick"))

	// Removing the last library removes the project entry too.
	l.StopLibrary("P", "tools")
	assert.Empty(t, l.Triples())
}

func TestLedgerClear(t *testing.T) {
	l := NewLedger()
	l.Start("P", "weapons", "sword")
	l.Start("Q", "blocks", "stone")

	l.Clear()
	assert.Equal(t, 0, l.Len())
}

func TestLedgerTriples(t *testing.T) {
	l := NewLedger()
	l.Start("P", "weapons", "sword")
	l.Start("P", "weapons", "axe")

	triples := l.Triples()
	require.Len(t, triples, 2)
	assert.Contains(t, triples, Triple{Project: "P", Library: "weapons", Item: "sword"})
	assert.Contains(t, triples, Triple{Project: "P", Library: "weapons", Item: "axe"})
}

func TestLedgerFinish(t *testing.T) {
	l := NewLedger()
	l.Start("P", "weapons", "sword")
	l.Start("P", "weapons", "axe")

	l.Finish("P", "weapons", "sword")
	// Not an active session, so no mark is recorded.
	l.Finish("P", "weapons", "bow")

	// The session stays live until the reconciler ends it.
	assert.True(t, l.IsEditing("P", "weapons", "sword"))

	finishing := l.DrainFinishing()
	require.Len(t, finishing, 1)
	assert.Equal(t, Triple{Project: "P", Library: "weapons", Item: "sword"}, finishing[0])

	// Draining clears the set.
	assert.Empty(t, l.DrainFinishing())
}

func TestLedgerFinishLibrary(t *testing.T) {
	l := NewLedger()
	l.Start("P", "weapons", "sword")
	l.Start("P", "weapons", "axe")
	l.Start("P", "tools", "pick")

	l.FinishLibrary("P", "weapons")

	finishing := l.DrainFinishing()
	require.Len(t, finishing, 2)
	assert.Contains(t, finishing, Triple{Project: "P", Library: "weapons", Item: "sword"})
	assert.Contains(t, finishing, Triple{Project: "P", Library: "weapons", Item: "axe"})
}

func TestLedgerClearDropsFinishingMarks(t *testing.T) {
	l := NewLedger()
	l.Start("P", "weapons", "sword")
	l.Finish("P", "weapons", "sword")

	l.Clear()
	assert.Empty(t, l.DrainFinishing())
}
