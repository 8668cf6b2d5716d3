package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/source"
)

// sourceFlags selects at most one local byte producer.
type sourceFlags struct {
	simulate    bool
	simInterval time.Duration
	simCount    int
	simSeed     uint64
	execCmd     string
	follow      string
	fromStart   bool
	hex         bool
	chunkSize   int
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.BoolVar(&f.simulate, "simulate", false, "Generate synthetic device output")
	flags.DurationVar(&f.simInterval, "sim-interval", 10*time.Millisecond, "Delay between simulated chunks")
	flags.IntVar(&f.simCount, "sim-count", 0, "Stop after this many simulated chunks (0 = forever)")
	flags.Uint64Var(&f.simSeed, "sim-seed", 0, "Seed for simulated output (0 = time based)")
	flags.StringVar(&f.execCmd, "exec", "", "Run a command in a pseudo-terminal and record its output (arguments after --)")
	flags.StringVar(&f.follow, "follow", "", "Follow a file or device path as it grows")
	flags.BoolVar(&f.fromStart, "from-start", false, "With --follow, record existing content first")
	flags.BoolVar(&f.hex, "hex", false, "Record chunks as hex dumps")
	flags.IntVar(&f.chunkSize, "chunk-size", source.DefaultChunkSize, "Read size in bytes")
}

// build returns the selected source, or nil when none was asked for.
func (f *sourceFlags) build(args []string) (source.Source, error) {
	picked := 0
	for _, set := range []bool{f.simulate, f.execCmd != "", f.follow != ""} {
		if set {
			picked++
		}
	}
	if picked > 1 {
		return nil, errors.New("--simulate, --exec and --follow are mutually exclusive")
	}
	if len(args) > 0 && f.execCmd == "" {
		return nil, errors.New("positional arguments are only accepted with --exec")
	}

	switch {
	case f.simulate:
		seed := f.simSeed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		return &source.Simulator{Interval: f.simInterval, Count: f.simCount, Seed: seed}, nil
	case f.execCmd != "":
		return &source.Exec{Command: f.execCmd, Args: args, ChunkSize: f.chunkSize, Hex: f.hex}, nil
	case f.follow != "":
		return &source.Follow{Path: f.follow, FromStart: f.fromStart, ChunkSize: f.chunkSize, Hex: f.hex}, nil
	}
	return nil, nil
}
