package main

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hostIsArm64() bool { return runtime.GOARCH == "arm64" }

func runMain(args []string) (exitCode int, stdOut, stdErr string) {
	var outBuf, errBuf bytes.Buffer
	exitCode = doMain(args, &outBuf, &errBuf)
	return exitCode, outBuf.String(), errBuf.String()
}

func TestHelp(t *testing.T) {
	exitCode, _, stdErr := runMain([]string{"-h"})
	require.Equal(t, 0, exitCode)
	assert.Contains(t, stdErr, "Usage:")
}

func TestRejectsUnknownArch(t *testing.T) {
	exitCode, _, stdErr := runMain([]string{"-arch=riscv64"})
	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stdErr, "invalid -arch")
}

func TestRunsAllScenariosOnHostArch(t *testing.T) {
	exitCode, stdOut, _ := runMain([]string{"-threshold=1"})
	require.Equal(t, 0, exitCode)
	for _, sc := range scenarios() {
		assert.Contains(t, stdOut, sc.name)
	}
	assert.Contains(t, stdOut, "PASS")
}

func TestCrossArchSmokeCompilesWithoutExecuting(t *testing.T) {
	other := "arm64"
	// Pick whichever of the two ISAs isn't the host, so this always
	// exercises the cross-arch (compile-only) branch regardless of which
	// machine runs the test.
	if hostIsArm64() {
		other = "amd64"
	}
	exitCode, stdOut, _ := runMain([]string{"-arch=" + other})
	require.Equal(t, 0, exitCode)
	assert.Contains(t, stdOut, "not executed")
}
