// Command quasar parses OpenQASM 3 source into the circuit IR.
//
// Usage:
//
//	quasar run <file.qasm> [--inputs bindings.yaml]   Elaborate a file and dump the IR.
//	quasar repl                                       Interactive statement-by-statement session.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/contra-bit/quasar"
)

const (
	appName     = "quasar"
	historyFile = ".quasar_history"
	promptMain  = "==> "
	promptCont  = "... "
)

func red(s string) string  { return "\x1b[31m" + s + "\x1b[0m" }
func blue(s string) string { return "\x1b[94m" + s + "\x1b[0m" }

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "run":
		os.Exit(cmdRun(os.Args[2:]))
	case "repl":
		os.Exit(cmdRepl())
	case "-h", "--help", "help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "%s: unknown command %q\n", appName, os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Printf(`quasar — OpenQASM 3 front-end

Usage:
  %s run <file.qasm> [--inputs bindings.yaml]   Elaborate a file and print the IR.
  %s repl                                       Start an interactive session.

`, appName, appName)
}

// -----------------------------------------------------------------------------
// run
// -----------------------------------------------------------------------------

func cmdRun(args []string) int {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var file, inputsFile string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--inputs":
			if i+1 >= len(args) {
				fmt.Fprintf(os.Stderr, "%s: --inputs needs a file\n", appName)
				return 2
			}
			i++
			inputsFile = args[i]
		case file == "":
			file = args[i]
		default:
			fmt.Fprintf(os.Stderr, "%s: unexpected argument %q\n", appName, args[i])
			return 2
		}
	}
	if file == "" {
		fmt.Fprintf(os.Stderr, "usage: %s run <file.qasm> [--inputs bindings.yaml]\n", appName)
		return 2
	}

	src, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: cannot read %s: %v\n", appName, file, err)
		return 1
	}

	inputs := map[string]any{}
	if inputsFile != "" {
		raw, err := os.ReadFile(inputsFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: cannot read %s: %v\n", appName, inputsFile, err)
			return 1
		}
		if err := yaml.Unmarshal(raw, &inputs); err != nil {
			fmt.Fprintf(os.Stderr, "%s: bad input bindings: %v\n", appName, err)
			return 1
		}
	}

	start := time.Now()
	circ, err := quasar.BuildProgram(string(src), inputs)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(quasar.WrapErrorWithSource(err, string(src)).Error()))
		return 1
	}
	logger.Info("elaborated program",
		zap.String("file", filepath.Base(file)),
		zap.Int("qubits", circ.QubitCount),
		zap.Int("instructions", len(circ.Instructions)),
		zap.Int("results", len(circ.Results)),
		zap.Duration("elapsed", time.Since(start)),
	)
	printCircuit(circ)
	return 0
}

func printCircuit(c *quasar.Circuit) {
	fmt.Printf("qubits: %d\n", c.QubitCount)
	for i, ins := range c.Instructions {
		fmt.Printf("%4d  %-24s %v\n", i, describeOp(ins.Op), ins.Targets)
	}
	for _, r := range c.Results {
		fmt.Printf("result: %s", r.Kind)
		if r.Targets != nil {
			fmt.Printf(" %v", r.Targets)
		}
		if len(r.States) > 0 {
			fmt.Printf(" %v", r.States)
		}
		if r.Obs != nil {
			if r.Obs.Matrix != nil {
				fmt.Printf(" hermitian")
			} else {
				fmt.Printf(" %s", strings.Join(r.Obs.Names, "@"))
			}
		}
		fmt.Println()
	}
}

func describeOp(op quasar.Operator) string {
	switch o := op.(type) {
	case quasar.Gate:
		s := o.Name
		if len(o.Params) > 0 {
			parts := make([]string, len(o.Params))
			for i, p := range o.Params {
				parts[i] = fmt.Sprintf("%g", p)
			}
			s += "(" + strings.Join(parts, ", ") + ")"
		}
		if o.Power != 1 {
			s += fmt.Sprintf("^%g", o.Power)
		}
		return s
	case quasar.Control:
		return fmt.Sprintf("ctrl%v %s", o.Bits, describeOp(o.Op))
	case quasar.GPhase:
		return fmt.Sprintf("gphase(%g)", o.Angle)
	case quasar.Unitary:
		return fmt.Sprintf("unitary[%dx%d]", len(o.Matrix), len(o.Matrix))
	case quasar.Noise:
		return o.Channel
	case quasar.Kraus:
		return fmt.Sprintf("kraus[%d]", len(o.Matrices))
	}
	return op.OperatorName()
}

// -----------------------------------------------------------------------------
// repl
// -----------------------------------------------------------------------------

// cmdRepl accumulates statements and re-elaborates the whole buffer after
// each complete input, so the printed IR always reflects the session.
func cmdRepl() int {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	histPath := filepath.Join(os.TempDir(), historyFile)
	if f, err := os.Open(histPath); err == nil {
		ln.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			ln.WriteHistory(f)
			f.Close()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigc }()

	fmt.Println("quasar REPL — OpenQASM 3. Ctrl+D exits, :ir dumps the circuit, :quit exits.")

	var buffer []string
	var pending string
	for {
		prompt := promptMain
		if pending != "" {
			prompt = promptCont
		}
		line, err := ln.Prompt(prompt)
		if err != nil {
			fmt.Println()
			return 0
		}
		switch strings.TrimSpace(line) {
		case ":quit":
			return 0
		case ":ir":
			if circ, err := quasar.BuildProgram(strings.Join(buffer, "\n"), nil); err == nil {
				printCircuit(circ)
			} else {
				fmt.Println(red(err.Error()))
			}
			continue
		}
		ln.AppendHistory(line)

		pending += line + "\n"
		if !inputComplete(pending) {
			continue
		}
		trial := append(append([]string{}, buffer...), pending)
		if _, err := quasar.BuildProgram(strings.Join(trial, "\n"), nil); err != nil {
			src := strings.Join(trial, "\n")
			fmt.Println(red(quasar.WrapErrorWithSource(err, src).Error()))
		} else {
			buffer = trial
			fmt.Println(blue("ok"))
		}
		pending = ""
	}
}

// inputComplete reports whether all braces in the pending text are closed.
func inputComplete(src string) bool {
	depth := 0
	for _, c := range src {
		switch c {
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return depth <= 0
}
