package consultation

// QueueState is Empty or Populated.
type QueueState string

const (
	QueueEmpty     QueueState = "empty"
	QueuePopulated QueueState = "populated"
)

// Queue is the ordered list of pending appointments for one consultant. The
// active entry is tracked by appointment id, never by position.
type Queue struct {
	entries  []QueueEntry
	activeID string
}

// Load replaces the queue wholesale. The active id is kept only if the entry
// is still present.
func (q *Queue) Load(entries []QueueEntry) {
	q.entries = append([]QueueEntry(nil), entries...)
	if q.indexOf(q.activeID) < 0 {
		q.activeID = ""
	}
}

func (q *Queue) State() QueueState {
	if len(q.entries) == 0 {
		return QueueEmpty
	}
	return QueuePopulated
}

func (q *Queue) Len() int { return len(q.entries) }

func (q *Queue) Entries() []QueueEntry {
	return append([]QueueEntry(nil), q.entries...)
}

func (q *Queue) Get(appointmentID string) (QueueEntry, bool) {
	i := q.indexOf(appointmentID)
	if i < 0 {
		return QueueEntry{}, false
	}
	return q.entries[i], true
}

// Select marks the entry active without removing it.
func (q *Queue) Select(appointmentID string) (QueueEntry, error) {
	i := q.indexOf(appointmentID)
	if i < 0 {
		return QueueEntry{}, ErrNotFound
	}
	q.activeID = appointmentID
	return q.entries[i], nil
}

// Current resolves the active entry, falling back to the head.
func (q *Queue) Current() (QueueEntry, bool) {
	if i := q.indexOf(q.activeID); i >= 0 {
		return q.entries[i], true
	}
	if len(q.entries) > 0 {
		return q.entries[0], true
	}
	return QueueEntry{}, false
}

func (q *Queue) ActiveID() string { return q.activeID }

// SetStatus changes the triage status of an entry in place.
func (q *Queue) SetStatus(appointmentID string, status QueueStatus) error {
	i := q.indexOf(appointmentID)
	if i < 0 {
		return ErrNotFound
	}
	q.entries[i].Status = status
	return nil
}

// AdvanceAfterFinish removes the completed entry (the head if it is not
// found) and makes the entry that slid into its position active, wrapping to
// the head when the removed entry was last. It returns false when the queue
// is now empty.
func (q *Queue) AdvanceAfterFinish(completedID string) (QueueEntry, bool) {
	if len(q.entries) == 0 {
		q.activeID = ""
		return QueueEntry{}, false
	}
	i := q.indexOf(completedID)
	if i < 0 {
		i = 0
	}
	q.entries = append(q.entries[:i:i], q.entries[i+1:]...)
	return q.activateAt(i)
}

// activateAt makes the entry at position i active, wrapping to the head when
// i is out of range. It returns false when the queue is empty.
func (q *Queue) activateAt(i int) (QueueEntry, bool) {
	if len(q.entries) == 0 {
		q.activeID = ""
		return QueueEntry{}, false
	}
	if i < 0 || i >= len(q.entries) {
		i = 0
	}
	next := q.entries[i]
	q.activeID = next.AppointmentID
	return next, true
}

func (q *Queue) indexOf(appointmentID string) int {
	if appointmentID == "" {
		return -1
	}
	for i, e := range q.entries {
		if e.AppointmentID == appointmentID {
			return i
		}
	}
	return -1
}
