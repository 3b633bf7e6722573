package application

import (
	"testing"
	"time"

	"addrscan/internal/domain"
	"addrscan/internal/streaming"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAssembler_OutOfOrderMessages(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	from := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	assembler := NewRunAssembler()

	messages := []streaming.Message{
		{Type: streaming.MessageTypeRun, RunID: "r1", Mode: "unique", Total: 2, ChainCount: 2, StartedAt: &started, WindowFrom: &from},
		{Type: streaming.MessageTypeAddress, RunID: "r1", Mode: "unique", Address: "0xB", Count: 1, Position: 1},
		{Type: streaming.MessageTypeChain, RunID: "r1", Mode: "unique", Chain: "polygon", Records: 4, Position: 1},
		{Type: streaming.MessageTypeAddress, RunID: "r1", Mode: "unique", Address: "0xB", Count: 1, Position: 1},
		{Type: streaming.MessageTypeChain, RunID: "r1", Mode: "unique", Chain: "eth", Records: 9, Findings: 3, Unique: 2, Position: 0},
	}
	for _, msg := range messages {
		_, done, err := assembler.Apply(msg)
		require.NoError(t, err)
		require.False(t, done)
	}
	assert.Equal(t, 1, assembler.Pending())

	report, done, err := assembler.Apply(streaming.Message{
		Type: streaming.MessageTypeAddress, RunID: "r1", Mode: "unique", Address: "0xa", Count: 5, Position: 0,
	})
	require.NoError(t, err)
	require.True(t, done)

	assert.Equal(t, domain.ScanModeUnique, report.Mode)
	assert.Equal(t, started, report.StartedAt)
	assert.Equal(t, from, report.From)
	assert.Nil(t, report.To)
	assert.Equal(t, []string{"0xa", "0xb"}, report.Addresses)
	assert.Equal(t, map[string]uint64{"0xa": 5, "0xb": 1}, report.Counts)
	assert.Equal(t, []domain.ChainResult{
		{Chain: "eth", Records: 9, Findings: 3, Unique: 2},
		{Chain: "polygon", Records: 4},
	}, report.Chains)
	assert.Zero(t, assembler.Pending())

	_, done, err = assembler.Apply(messages[1])
	require.NoError(t, err)
	assert.False(t, done)
	assert.Zero(t, assembler.Pending())
}

func TestRunAssembler_EmptyRunCompletesOnRunMessage(t *testing.T) {
	report, done, err := NewRunAssembler().Apply(streaming.Message{Type: streaming.MessageTypeRun, RunID: "r2", Mode: "count"})
	require.NoError(t, err)
	require.True(t, done)
	assert.Empty(t, report.Addresses)
	assert.Empty(t, report.Chains)
}

func TestRunAssembler_RejectsInvalidMessages(t *testing.T) {
	assembler := NewRunAssembler()
	cases := []streaming.Message{
		{Type: streaming.MessageTypeAddress},
		{Type: streaming.MessageTypeAddress, RunID: "r3"},
		{Type: streaming.MessageTypeAddress, RunID: "r3", Address: "0xa", Position: -1},
		{Type: streaming.MessageTypeChain, RunID: "r3"},
		{Type: "block", RunID: "r3"},
	}
	for _, msg := range cases {
		_, done, err := assembler.Apply(msg)
		assert.Error(t, err, msg.Type)
		assert.False(t, done)
	}
}

func TestRunAssembler_GapInPositions(t *testing.T) {
	assembler := NewRunAssembler()
	_, _, err := assembler.Apply(streaming.Message{Type: streaming.MessageTypeAddress, RunID: "r4", Address: "0xa", Position: 1})
	require.NoError(t, err)
	_, _, err = assembler.Apply(streaming.Message{Type: streaming.MessageTypeAddress, RunID: "r4", Address: "0xb", Position: 2})
	require.NoError(t, err)

	_, done, err := assembler.Apply(streaming.Message{Type: streaming.MessageTypeRun, RunID: "r4", Total: 2})
	require.Error(t, err)
	assert.False(t, done)
	assert.Equal(t, 1, assembler.Pending())
}
