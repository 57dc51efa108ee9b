// Package resource provides integer handle tables for engine-side objects.
//
// A handle is an opaque non-zero integer that names a value owned by the
// table. Handle 0 is reserved and always invalid, which lets it double as the
// "operation failed" sentinel of a C-style ABI.
//
// # Handle Table
//
// The Table maps integer handles to Go values:
//
//	table := resource.NewTable()
//
//	// Insert a value, get a handle
//	handle := table.Insert(typeID, value)
//
//	// Retrieve value by handle, checking its type
//	value, ok := table.GetTyped(handle, typeID)
//
//	// Remove exactly once
//	value, ok = table.Remove(handle, typeID)
//
// # Generations
//
// Slots are recycled, but every reuse bumps the slot generation, which is
// encoded in the upper half of the handle. A handle that outlives its value
// fails every lookup instead of aliasing the slot's next occupant, and a
// second Remove of the same handle is counted as a stale drop rather than
// freeing someone else's object.
//
// # Observers
//
// Register observers to track lifecycle events:
//
//	table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    log.Printf("%s handle=%d", e.Type, e.Handle)
//	}))
//
// Resources are not garbage collected; every Insert must be paired with one
// Remove, or reclaimed in bulk with Close.
package resource
