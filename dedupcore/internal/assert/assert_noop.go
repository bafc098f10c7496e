//go:build dedupcore_noassert

package assert

// assertThat is compiled to nothing: spec.md §7 documents release behaviour
// as undefined on a failed precondition, so a release build pays no cost
// for checking it.
func assertThat(cond bool, format string, args ...any) {}
