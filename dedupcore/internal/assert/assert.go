// Package assert provides the invariant-checking primitive used throughout
// dedupcore. Every precondition spec.md §7 calls out as "asserted in debug,
// undefined in release" goes through That.
package assert

import "fmt"

// That panics with a formatted message when cond is false.
//
// Build with -tags dedupcore_noassert to compile this down to a no-op, for
// a release binary that wants to document (not pay for) the check — see
// assert_noop.go.
func That(cond bool, format string, args ...any) {
	assertThat(cond, format, args...)
}

func panicf(format string, args ...any) {
	panic(fmt.Sprintf("dedupcore: invariant violation: "+format, args...))
}
