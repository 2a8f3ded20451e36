//go:build js && wasm

package lockfile

import "os"

// No file locking under wasm; there is only ever one process.
func flockExclusive(f *os.File) error { return nil }

func flockUnlock(f *os.File) error { return nil }
