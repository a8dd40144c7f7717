package nats

import (
	"testing"

	"chunkdrop/internal/events"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "uploads.events.completed", subjectFor("uploads.events", events.Event{Type: events.TypeCompleted}))
	assert.Equal(t, "uploads.events.aborted", subjectFor("uploads.events", events.Event{Type: events.TypeAborted}))
	assert.Equal(t, "uploads.events.unknown", subjectFor("uploads.events", events.Event{Type: "other"}))
}

func TestMsgID_StablePerOutcome(t *testing.T) {
	id := uuid.New()

	done := msgID(events.Event{ID: id, Type: events.TypeCompleted})
	aborted := msgID(events.Event{ID: id, Type: events.TypeAborted})

	assert.Equal(t, done, msgID(events.Event{ID: id, Type: events.TypeCompleted, Size: 42}))
	assert.NotEqual(t, done, aborted)
}
