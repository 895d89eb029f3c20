//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// TimeConstants detects magic date/time format strings that have named
// constants since Go 1.20.
func TimeConstants(m dsl.Matcher) {
	m.Match(`$t.Format("2006-01-02 15:04:05")`).
		Report(`use $t.Format(time.DateTime) instead of magic format string (Go 1.20+)`).
		Suggest(`$t.Format(time.DateTime)`)

	m.Match(`$t.Format("2006-01-02")`).
		Report(`use $t.Format(time.DateOnly) instead of magic format string (Go 1.20+)`).
		Suggest(`$t.Format(time.DateOnly)`)

	m.Match(`$t.Format("15:04:05")`).
		Report(`use $t.Format(time.TimeOnly) instead of magic format string (Go 1.20+)`).
		Suggest(`$t.Format(time.TimeOnly)`)
}

// ContextBackgroundInTest suggests t.Context() over context.Background()
// inside tests (Go 1.24+); it is cancelled automatically when the test ends.
func ContextBackgroundInTest(m dsl.Matcher) {
	m.Match(`context.Background()`).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report(`consider t.Context() in tests (Go 1.24+)`)
}

// SprintfSimplify catches fmt.Sprintf calls that have cheaper equivalents.
func SprintfSimplify(m dsl.Matcher) {
	m.Match(`fmt.Sprintf("%s", $s)`).
		Where(m["s"].Type.Is("string")).
		Report(`unnecessary fmt.Sprintf, $s is already a string`).
		Suggest(`$s`)

	m.Match(`fmt.Sprintf("%d", $i)`).
		Where(m["i"].Type.Is("int")).
		Report(`use strconv.Itoa($i) instead of fmt.Sprintf`).
		Suggest(`strconv.Itoa($i)`)
}

// ErrorsJoin suggests errors.Join over manual multi-error formatting.
func ErrorsJoin(m dsl.Matcher) {
	m.Match(`fmt.Errorf("%v; %v", $a, $b)`).
		Where(m["a"].Type.Implements("error") && m["b"].Type.Implements("error")).
		Report(`use errors.Join($a, $b) to combine errors (Go 1.20+)`).
		Suggest(`errors.Join($a, $b)`)
}
