// Command svmjit is a small demo/driver binary: it runs every end-to-end
// scenario from §8 against both the interpreter-only stand-in VM and the
// tiered JIT pipeline, checks the results agree, and prints how much
// faster (or not) the compiled path ran — mirroring wazero's own
// `cmd/wazero run` demonstration binary (SPEC_FULL §B.5).
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/svmjit/svmjit/internal/bytecode"
	"github.com/svmjit/svmjit/internal/jit"
	"github.com/svmjit/svmjit/internal/jitlog"
	"github.com/svmjit/svmjit/internal/uop"
	"github.com/svmjit/svmjit/internal/value"
	"github.com/svmjit/svmjit/internal/vmhost"
)

// Config is the demo binary's entire configuration surface (SPEC_FULL
// §B.3) — the JIT core itself takes none.
type Config struct {
	Threshold uint
	Arch      string
	Verbose   bool
}

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

// doMain is separated from main for unit testing, the same shape as the
// teacher's own cmd/wazero driver.
func doMain(args []string, stdOut, stdErr io.Writer) int {
	flags := flag.NewFlagSet("svmjit", flag.ContinueOnError)
	flags.SetOutput(stdErr)

	var help bool
	flags.BoolVar(&help, "h", false, "Prints usage.")

	cfg := Config{}
	flags.UintVar(&cfg.Threshold, "threshold", 1, "interpreted-call count at which a function becomes a compile candidate")
	flags.StringVar(&cfg.Arch, "arch", runtime.GOARCH, "target ISA: amd64 or arm64; a non-host value only smoke-tests compilation, it cannot execute")
	flags.BoolVar(&cfg.Verbose, "v", false, "enable verbose jitlog output")

	if err := flags.Parse(args); err != nil {
		return 1
	}
	if help {
		printUsage(stdErr, flags)
		return 0
	}
	if cfg.Arch != "amd64" && cfg.Arch != "arm64" {
		fmt.Fprintf(stdErr, "invalid -arch %q: must be amd64 or arm64\n", cfg.Arch)
		return 1
	}

	var logger *jitlog.Logger
	if cfg.Verbose {
		logger = &jitlog.Logger{Scopes: jitlog.ScopeAll, Out: stdErr}
	}

	allPassed := true
	for _, sc := range scenarios() {
		ok := runScenario(sc, cfg, logger, stdOut)
		allPassed = allPassed && ok
	}
	if !allPassed {
		return 1
	}
	return 0
}

// runScenario runs sc once through the interpreter-only stand-in VM and
// once through the tiered pipeline, reporting whether both agree with the
// scenario's expected value and how their wall-clock times compare.
func runScenario(sc scenario, cfg Config, logger *jitlog.Logger, stdOut io.Writer) bool {
	interpResult, interpDur := timeInterpreted(sc, logger)

	var jitResult value.Value
	var jitDur time.Duration
	var jitErr error
	crossArch := cfg.Arch != runtime.GOARCH

	if crossArch {
		// Cross-arch: compile for the requested ISA and report size, but
		// do not attempt to execute foreign machine code on this host.
		size, err := smokeCompile(sc.fns[0], cfg.Arch)
		if err != nil {
			fmt.Fprintf(stdOut, "%-28s FAIL (cross-arch compile for %s: %v)\n", sc.name, cfg.Arch, err)
			return false
		}
		fmt.Fprintf(stdOut, "%-28s interpreted=%-12v %s smoke-compiled=%d bytes (not executed)\n",
			sc.name, interpDur, cfg.Arch, size)
		return interpResult == sc.want
	}

	jitResult, jitDur, jitErr = timeCompiled(sc, cfg.Threshold, logger)
	if jitErr != nil {
		fmt.Fprintf(stdOut, "%-28s FAIL (jit: %v)\n", sc.name, jitErr)
		return false
	}

	pass := interpResult == sc.want && jitResult == sc.want
	status := "PASS"
	if !pass {
		status = "FAIL"
	}
	ratio := float64(interpDur) / float64(jitDur)
	fmt.Fprintf(stdOut, "%-28s %s interpreted=%-12v jit=%-12v ratio=%.2fx\n",
		sc.name, status, interpDur, jitDur, ratio)
	return pass
}

func timeInterpreted(sc scenario, logger *jitlog.Logger) (value.Value, time.Duration) {
	// A threshold no call count will ever reach keeps the VM permanently
	// interpreted.
	vm := vmhost.New(sc.fns, nil, ^uint32(0), logger)
	start := time.Now()
	result, err := vm.Call(0, sc.args)
	dur := time.Since(start)
	if err != nil {
		return value.Value{}, dur
	}
	return result, dur
}

func timeCompiled(sc scenario, threshold uint, logger *jitlog.Logger) (value.Value, time.Duration, error) {
	vm := vmhost.New(sc.fns, nil, uint32(threshold), logger)
	// Warm the tiering counter up to and past the threshold so the entry
	// function is compiled before the timed call.
	var warm value.Value
	var err error
	for i := uint(0); i <= threshold; i++ {
		warm, err = vm.Call(0, sc.args)
		if err != nil {
			return value.Value{}, 0, err
		}
	}

	start := time.Now()
	result, err := vm.Call(0, sc.args)
	dur := time.Since(start)
	if err != nil {
		return value.Value{}, dur, err
	}
	if result != warm {
		return result, dur, fmt.Errorf("compiled result %v disagreed with warm-up result %v", result, warm)
	}
	return result, dur, nil
}

// smokeCompile lowers fn through the µop converter and the requested
// ISA's compiler without installing or executing the result, reporting
// the emitted code size.
func smokeCompile(fn *bytecode.Function, arch string) (int, error) {
	converted, err := uop.Convert(fn)
	if err != nil {
		return 0, err
	}
	var code *jit.CompiledCode
	switch arch {
	case "amd64":
		code, err = jit.CompileAMD64(converted, 0)
	case "arm64":
		code, err = jit.CompileARM64(converted, 0)
	default:
		return 0, fmt.Errorf("no compiler for arch %q", arch)
	}
	if err != nil {
		return 0, err
	}
	return len(code.Code), nil
}

func printUsage(stdErr io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(stdErr, "svmjit: runs the baseline JIT's end-to-end scenarios\n\nUsage:")
	flags.PrintDefaults()
}
