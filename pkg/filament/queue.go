package filament

import "github.com/gammazero/deque"

// DiameterReading is a measured diameter tagged with the extruder position
// at which that filament segment reaches the nozzle.
type DiameterReading struct {
	Position float64 // mm of extruder travel
	Diameter float64 // mm
}

// DelayQueue holds readings waiting for the extruder to catch up with
// them. Readings are appended in position order by the sampler and popped
// from the front by the controller.
type DelayQueue struct {
	readings deque.Deque[DiameterReading]
}

// Append adds a reading at the back.
func (q *DelayQueue) Append(r DiameterReading) {
	q.readings.PushBack(r)
}

// PeekFront returns the oldest reading without removing it.
func (q *DelayQueue) PeekFront() (DiameterReading, bool) {
	if q.readings.Len() == 0 {
		return DiameterReading{}, false
	}
	return q.readings.Front(), true
}

// PeekBack returns the newest reading.
func (q *DelayQueue) PeekBack() (DiameterReading, bool) {
	if q.readings.Len() == 0 {
		return DiameterReading{}, false
	}
	return q.readings.Back(), true
}

// PopFront removes and returns the oldest reading. It panics on an empty
// queue; callers check PeekFront first.
func (q *DelayQueue) PopFront() DiameterReading {
	return q.readings.PopFront()
}

// Clear drops every pending reading.
func (q *DelayQueue) Clear() {
	q.readings.Clear()
}

// Len returns the number of pending readings.
func (q *DelayQueue) Len() int {
	return q.readings.Len()
}

// Readings returns a copy of the pending readings, oldest first.
func (q *DelayQueue) Readings() []DiameterReading {
	out := make([]DiameterReading, q.readings.Len())
	for i := range out {
		out[i] = q.readings.At(i)
	}
	return out
}
