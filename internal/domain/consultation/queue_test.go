package consultation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(ids ...string) []QueueEntry {
	out := make([]QueueEntry, len(ids))
	for i, id := range ids {
		out[i] = QueueEntry{
			AppointmentID: id,
			DisplayNumber: i + 1,
			PatientName:   "Patient " + id,
			PatientCode:   "P-" + id,
			Status:        StatusPending,
		}
	}
	return out
}

func queueIDs(q *Queue) []string {
	var ids []string
	for _, e := range q.Entries() {
		ids = append(ids, e.AppointmentID)
	}
	return ids
}

func TestQueue_State(t *testing.T) {
	var q Queue
	assert.Equal(t, QueueEmpty, q.State())
	q.Load(entries("a"))
	assert.Equal(t, QueuePopulated, q.State())
}

func TestQueue_SelectIsNonDestructive(t *testing.T) {
	var q Queue
	q.Load(entries("a", "b"))

	e, err := q.Select("b")
	require.NoError(t, err)
	assert.Equal(t, "P-b", e.PatientCode)
	assert.Equal(t, "b", q.ActiveID())
	assert.Equal(t, 2, q.Len())

	_, err = q.Select("zzz")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "b", q.ActiveID())
}

func TestQueue_CurrentFallsBackToHead(t *testing.T) {
	var q Queue
	_, ok := q.Current()
	assert.False(t, ok)

	q.Load(entries("a", "b"))
	cur, ok := q.Current()
	require.True(t, ok)
	assert.Equal(t, "a", cur.AppointmentID)
}

func TestQueue_LoadKeepsActiveOnlyIfPresent(t *testing.T) {
	var q Queue
	q.Load(entries("a", "b"))
	_, err := q.Select("b")
	require.NoError(t, err)

	q.Load(entries("c", "b"))
	assert.Equal(t, "b", q.ActiveID())

	q.Load(entries("c"))
	assert.Equal(t, "", q.ActiveID())
}

func TestQueue_AdvanceSingleEntryEmpties(t *testing.T) {
	var q Queue
	q.Load(entries("a"))
	_, err := q.Select("a")
	require.NoError(t, err)

	_, ok := q.AdvanceAfterFinish("a")
	assert.False(t, ok)
	assert.Equal(t, QueueEmpty, q.State())
	assert.Equal(t, "", q.ActiveID())
}

func TestQueue_AdvanceMiddleSlides(t *testing.T) {
	var q Queue
	q.Load(entries("a", "b", "c"))
	_, err := q.Select("b")
	require.NoError(t, err)

	next, ok := q.AdvanceAfterFinish("b")
	require.True(t, ok)
	assert.Equal(t, "c", next.AppointmentID)
	assert.Equal(t, "c", q.ActiveID())
	assert.Equal(t, []string{"a", "c"}, queueIDs(&q))
}

func TestQueue_AdvanceLastWrapsToHead(t *testing.T) {
	var q Queue
	q.Load(entries("a", "b", "c"))

	next, ok := q.AdvanceAfterFinish("c")
	require.True(t, ok)
	assert.Equal(t, "a", next.AppointmentID)
}

func TestQueue_AdvanceUnknownRemovesHead(t *testing.T) {
	var q Queue
	q.Load(entries("a", "b"))

	next, ok := q.AdvanceAfterFinish("gone")
	require.True(t, ok)
	assert.Equal(t, "b", next.AppointmentID)
	assert.Equal(t, []string{"b"}, queueIDs(&q))
}

func TestQueue_SetStatus(t *testing.T) {
	var q Queue
	q.Load(entries("a"))
	require.NoError(t, q.SetStatus("a", StatusEmergency))
	e, _ := q.Get("a")
	assert.Equal(t, StatusEmergency, e.Status)
	assert.True(t, errors.Is(q.SetStatus("x", StatusOnHold), ErrNotFound))
}

func TestQueue_EntriesIsACopy(t *testing.T) {
	var q Queue
	q.Load(entries("a"))
	es := q.Entries()
	es[0].PatientName = "changed"
	e, _ := q.Get("a")
	assert.Equal(t, "Patient a", e.PatientName)
}

func TestParseQueueStatuses(t *testing.T) {
	assert.Equal(t, []QueueStatus{StatusPending, StatusOnHold, StatusEmergency},
		ParseQueueStatuses("pending, On Hold,unknown,EMERGENCY"))
}
