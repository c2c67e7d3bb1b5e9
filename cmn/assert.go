// Package cmn provides common low-level types and utilities shared by the
// simulator core.
/*
 * Copyright (c) 2019, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"fmt"
	"os"
	"runtime"

	"github.com/golang/glog"
)

const assertMsg = "assertion failed"

// Assert and friends guard programmer/configuration invariants: an unknown
// command in a state transition table, a PER_RANK queue asked to host a
// per-bank refresh. They are fatal - they indicate a bug or an unsupported
// configuration, never a runtime data condition.

func Assert(cond bool) {
	if !cond {
		AssertMsg(cond, "")
	}
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		glog.Flush()
		if msg == "" {
			panic(assertMsg + ": " + caller(2))
		}
		panic(assertMsg + ": " + msg + ": " + caller(2))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		glog.Flush()
		panic(err)
	}
}

// Exitf is the unrecoverable-state exit: log with caller context, flush, die.
func Exitf(format string, a ...any) {
	glog.Errorf("%s: %s", caller(2), fmt.Sprintf(format, a...))
	glog.Flush()
	os.Exit(1)
}

func caller(skip int) string {
	if _, file, line, ok := runtime.Caller(skip); ok {
		return fmt.Sprintf("%s:%d", file, line)
	}
	return "<unknown>"
}
