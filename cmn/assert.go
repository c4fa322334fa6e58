package cmn

import "fmt"

// Assert panics when cond is false. Reserved for invariants that indicate
// a programming error, never for user-input or I/O failure paths.
func Assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		panic(msg)
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(fmt.Sprintf("unexpected error: %v", err))
	}
}
