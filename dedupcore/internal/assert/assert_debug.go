//go:build !dedupcore_noassert

package assert

func assertThat(cond bool, format string, args ...any) {
	if !cond {
		panicf(format, args...)
	}
}
