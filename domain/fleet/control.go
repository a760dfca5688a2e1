package fleet

import "sort"

// ControlEvents is the batch of operator signals drained from the control
// surface at the start of a tick. Each flag is consumed exactly once.
type ControlEvents struct {
	shutdown   bool
	refreshAll bool
	refreshIDs map[string]struct{}
}

// NewControlEvents creates an empty event batch.
func NewControlEvents() ControlEvents {
	return ControlEvents{}
}

// WithShutdown returns a copy with the shutdown signal set.
func (e ControlEvents) WithShutdown() ControlEvents {
	e.shutdown = true
	return e
}

// WithRefreshAll returns a copy with the refresh-all signal set.
func (e ControlEvents) WithRefreshAll() ControlEvents {
	e.refreshAll = true
	return e
}

// WithRefreshRepo returns a copy with repoID added to the refresh set.
func (e ControlEvents) WithRefreshRepo(repoID string) ControlEvents {
	ids := make(map[string]struct{}, len(e.refreshIDs)+1)
	for id := range e.refreshIDs {
		ids[id] = struct{}{}
	}
	ids[repoID] = struct{}{}
	e.refreshIDs = ids
	return e
}

// Shutdown returns true if a shutdown was requested.
func (e ControlEvents) Shutdown() bool { return e.shutdown }

// RefreshAll returns true if a fleet-wide refresh was requested.
func (e ControlEvents) RefreshAll() bool { return e.refreshAll }

// RefreshRepoIDs returns the requested repo refreshes in sorted order.
func (e ControlEvents) RefreshRepoIDs() []string {
	if len(e.refreshIDs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(e.refreshIDs))
	for id := range e.refreshIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Forces returns true if the batch requests an immediate refresh of repoID,
// either fleet-wide or by name.
func (e ControlEvents) Forces(repoID string) bool {
	if e.refreshAll {
		return true
	}
	_, ok := e.refreshIDs[repoID]
	return ok
}

// IsEmpty returns true if no signal is set.
func (e ControlEvents) IsEmpty() bool {
	return !e.shutdown && !e.refreshAll && len(e.refreshIDs) == 0
}
