package inventory

// Apply runs the staged mutations against a snapshot and returns the
// mutated snapshot plus whether a write-back is due. Indices that no
// longer exist in the snapshot are ignored.
//
// Marker removals run first and edit slots in place. Clears are applied by
// masking the doomed positions and filtering in a single pass, so later
// removals are never skewed by earlier renumbering.
//
// write-back policy matches the bridge contract: any non-empty queue sends
// one full setinv, even when the staged slot turned out to be a no-op.
func Apply(snap Snapshot, clear, removeImport map[int]struct{}) (Snapshot, bool) {
	changed := len(clear)+len(removeImport) > 0

	for i := range removeImport {
		if i < 0 || i >= len(snap) || snap[i] == nil {
			continue
		}
		if _, ok := snap[i].ImportMarker(); ok {
			snap[i].ClearImportMarker()
		}
	}

	if len(clear) == 0 {
		return snap, changed
	}

	result := make(Snapshot, 0, len(snap))
	for i, t := range snap {
		if _, doomed := clear[i]; doomed {
			continue
		}
		result = append(result, t)
	}
	return result, changed
}
