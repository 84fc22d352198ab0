// readset builds, queries, and inspects readset container files of string
// keys.
//
// Usage:
//
//	readset build  [flags] -o keys.rset [input]   one key per line; stdin if no input
//	readset query  [flags] keys.rset [key...]     keys from stdin if none given
//	readset stats  [flags] keys.rset
//	readset dump   [flags] keys.rset
//
// Run "readset <command> --help" for the flags of a command.
package main

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/tamirms/readset"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, errMissingKeys) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

// errMissingKeys makes query exit with status 1 when a key is absent.
var errMissingKeys = errors.New("one or more keys not found")

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		printUsage()
		return errors.New("missing command")
	}

	switch args[0] {
	case "build":
		return runBuild(args[1:], stdin, stdout)
	case "query":
		return runQuery(args[1:], stdin, stdout)
	case "stats":
		return runStats(args[1:], stdout)
	case "dump":
		return runDump(args[1:], stdout)
	case "help", "-h", "--help":
		printUsage()
		return nil
	}
	printUsage()
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: readset <command> [flags]

Commands:
  build   build a container from newline-separated keys
  query   report whether keys are members of a container
  stats   describe a container and its bucket occupancy
  dump    print every key of a container
`)
}

// commonFlags are shared by every command.
type commonFlags struct {
	hashName string
	seed     uint32
	keyHex   string
	verbose  bool
	workers  int
	budget   int64
	mmap     bool
}

func (c *commonFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.hashName, "hash", "xxh3", "hash strategy: xxh3, xxhash, murmur3 or keyed")
	fs.Uint32Var(&c.seed, "seed", 0, "seed for the murmur3 strategy")
	fs.StringVar(&c.keyHex, "key", "", "hex-encoded 32-byte key for the keyed strategy")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "log build and decode events to stderr")
	fs.IntVar(&c.workers, "workers", 1, "goroutines used to hash keys during a build")
	fs.Int64Var(&c.budget, "memory-budget", 0, "cap in bytes on set memory (0 = unlimited)")
	fs.BoolVar(&c.mmap, "mmap", false, "keep the bucket table and build scratch in anonymous memory maps")
}

func (c *commonFlags) hash() (readset.HashFunc[string], error) {
	switch c.hashName {
	case "xxh3":
		return readset.HashString, nil
	case "xxhash":
		return readset.XXHashString, nil
	case "murmur3":
		return readset.Murmur3String(c.seed), nil
	case "keyed":
		key, err := hex.DecodeString(c.keyHex)
		if err != nil {
			return nil, fmt.Errorf("--key: %w", err)
		}
		return readset.KeyedString(key)
	}
	return nil, fmt.Errorf("unknown hash strategy %q", c.hashName)
}

func (c *commonFlags) options() []readset.Option {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	opts := []readset.Option{
		readset.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))),
		readset.WithWorkers(c.workers),
		readset.WithMemoryBudget(c.budget),
	}
	if c.mmap {
		opts = append(opts, readset.WithMmapScratch())
	}
	return opts
}

// parse parses args into fs, returning pflag.ErrHelp unchanged so callers
// can treat --help as success.
func parse(fs *pflag.FlagSet, args []string) error {
	fs.BoolP("help", "h", false, "show help")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if help, _ := fs.GetBool("help"); help {
		fs.SetOutput(os.Stderr)
		fs.PrintDefaults()
		return pflag.ErrHelp
	}
	return nil
}

// readLines returns the non-empty lines of r.
func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
