//go:build !unix

package registry

// lockSettings is a no-op where flock is unavailable. Writers in one
// process are still serialized by Registry.mu, and every mutation re-reads
// the file first.
func lockSettings(string) (func(), error) {
	return func() {}, nil
}
