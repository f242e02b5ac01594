// Package ev collects deferred work so that it can be run outside of
// a critical section.
package ev

import "errors"

// Batch is a list of pending events. The zero value is ready to use.
type Batch struct {
	events []func() error
}

// Add appends an event to the batch.
func (b *Batch) Add(ev func() error) {
	b.events = append(b.events, ev)
}

// Len returns the number of pending events.
func (b *Batch) Len() int {
	return len(b.events)
}

// Flush runs every pending event in order and empties the batch.
func (b *Batch) Flush() error {
	return errors.Join(Flush(b)...)
}

func Flush(b *Batch) (errs []error) {
	for _, ev := range b.events {
		err := ev()
		if err != nil {
			errs = append(errs, err)
		}
	}
	b.events = nil
	return errs
}
