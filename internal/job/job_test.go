package job

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validJob() *Job {
	return &Job{
		ID:          uuid.New(),
		Model:       "kimi-k2.5",
		Temperature: 1.0,
		Messages: []Message{
			{Role: RoleUser, Content: "hello"},
		},
	}
}

func TestJob_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, validJob().Validate())
	})

	t.Run("missing model", func(t *testing.T) {
		j := validJob()
		j.Model = ""
		assert.ErrorIs(t, j.Validate(), ErrMissingModel)
	})

	t.Run("no messages", func(t *testing.T) {
		j := validJob()
		j.Messages = nil
		assert.ErrorIs(t, j.Validate(), ErrNoMessages)
	})

	t.Run("bad role", func(t *testing.T) {
		j := validJob()
		j.Messages = append(j.Messages, Message{Role: "tool", Content: "x"})
		err := j.Validate()
		assert.ErrorIs(t, err, ErrInvalidRole)
		assert.Contains(t, err.Error(), "tool")
	})
}

func TestJob_CloneMessages(t *testing.T) {
	j := validJob()
	clone := j.CloneMessages()

	require.Equal(t, j.Messages, clone)

	clone[0].Content = "mutated"
	clone = append(clone, Message{Role: RoleAssistant, Content: "extra"})
	_ = clone

	assert.Equal(t, "hello", j.Messages[0].Content, "caller-owned messages must not change")
	assert.Len(t, j.Messages, 1)
}

func TestEvent_Terminal(t *testing.T) {
	id := uuid.New()
	assert.False(t, Event{JobID: id, Type: EventChunk, Data: "x"}.Terminal())
	assert.True(t, Event{JobID: id, Type: EventDone}.Terminal())
	assert.True(t, Event{JobID: id, Type: EventError, Data: "boom"}.Terminal())
}
