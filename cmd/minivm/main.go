package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/minivm/minivm/config"
	"github.com/minivm/minivm/internal/outw"
	"github.com/minivm/minivm/machine"
)

var (
	debug      bool
	configPath string
	execStats  bool
)

// atExit logs err (with a stack trace in debug mode) and exits non-zero.
// Grounded on db47h-ngaro/cmd/retro/main.go's atExit.
func atExit(err error) {
	if err == nil {
		return
	}
	if !debug {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%+v\n", err)
	os.Exit(1)
}

func main() {
	var err error

	flag.StringVar(&configPath, "config", "", "load tuning parameters from `filename` (TOML)")
	flag.BoolVar(&debug, "debug", false, "print full error causes and stack traces")
	flag.BoolVar(&execStats, "stats", false, "print elapsed run time upon exit")
	flag.Parse()

	defer func() { atExit(err) }()

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return
		}
	} else {
		cfg = config.DefaultConfig()
	}

	args := flag.Args()
	if len(args) != 1 {
		err = errors.New("usage: minivm [-config filename] [-debug] [-stats] <source-file>")
		return
	}

	f, err := os.Open(args[0])
	if err != nil {
		err = errors.Wrapf(err, "opening %q", args[0])
		return
	}
	defer f.Close()

	stdout := bufio.NewWriter(os.Stdout)
	out := outw.New(stdout)
	defer stdout.Flush()

	m := machine.New(cfg, machine.Output(out), machine.Input(os.Stdin))
	if err = m.Compile(f, args[0]); err != nil {
		return
	}
	defer m.Teardown()

	start := time.Now()
	err = m.Run()
	if err == nil {
		err = out.Err
	}
	if execStats {
		fmt.Fprintf(os.Stderr, "executed in %v\n", time.Since(start))
	}
}
