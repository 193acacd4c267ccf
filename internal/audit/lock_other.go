//go:build !unix

package audit

import "os"

// Without flock, O_APPEND single-write lines are the only guarantee.
func lockFile(f *os.File, exclusive bool) error { return nil }

func unlockFile(f *os.File) error { return nil }
