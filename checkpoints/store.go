// Package checkpoints persists serialized enumerator state so a restarted
// job can recover its split assignments.
package checkpoints

import "fmt"

// Store writes and reads enumerator state checkpoints. Save returns a URI
// identifying the stored checkpoint; LoadLatest returns the state with the
// highest checkpoint id.
type Store interface {
	Save(checkpointID int64, state []byte) (uri string, err error)
	LoadLatest() (data []byte, ok bool, err error)
}

// checkpointPrefix names checkpoint objects. The zero-padded checkpoint id
// makes lexicographic name order match checkpoint order; the ksuid suffix
// keeps names unique across restarts that reuse an id.
const checkpointPrefix = "enumerator-state-"

func checkpointName(checkpointID int64, suffix string) string {
	return fmt.Sprintf("%s%020d-%s", checkpointPrefix, checkpointID, suffix)
}
