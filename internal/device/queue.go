package device

// SetupQueue is the ordered sequence of device ids awaiting orchestration.
// A cursor tracks how far setup has progressed; removing an entry that sits
// before the cursor shifts the cursor back so no device is skipped or
// processed twice.
//
// SetupQueue is not safe for concurrent use on its own; the Registry guards
// it under its lock.
type SetupQueue struct {
	ids    []string
	cursor int
}

// Reset replaces the queue contents and rewinds the cursor.
func (q *SetupQueue) Reset(ids []string) {
	q.ids = append([]string(nil), ids...)
	q.cursor = 0
}

// Next returns the id at the cursor and advances. ok is false once every
// entry has been handed out.
func (q *SetupQueue) Next() (id string, ok bool) {
	if q.cursor >= len(q.ids) {
		return "", false
	}
	id = q.ids[q.cursor]
	q.cursor++
	return id, true
}

// Remove drops an id from the queue wherever it sits. If the removed index
// precedes the cursor the cursor moves back one slot, keeping the next
// unresolved entry stable.
func (q *SetupQueue) Remove(id string) {
	for i, queued := range q.ids {
		if queued != id {
			continue
		}
		q.ids = append(q.ids[:i], q.ids[i+1:]...)
		if i < q.cursor {
			q.cursor--
		}
		return
	}
}

// Len returns the number of queued ids, resolved or not.
func (q *SetupQueue) Len() int {
	return len(q.ids)
}

// Remaining returns how many entries the cursor has not yet handed out.
func (q *SetupQueue) Remaining() int {
	return len(q.ids) - q.cursor
}
