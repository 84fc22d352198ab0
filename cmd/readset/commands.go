package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/tamirms/readset"
	"github.com/tamirms/readset/codec"
)

func runBuild(args []string, stdin io.Reader, stdout io.Writer) error {
	var common commonFlags
	var output, compression string
	var buckets int

	fs := pflag.NewFlagSet("readset build", pflag.ContinueOnError)
	common.register(fs)
	fs.StringVarP(&output, "output", "o", "", "container file to write (required)")
	fs.IntVarP(&buckets, "buckets", "b", readset.DefaultBucketCount, "bucket count (0 = four per key)")
	fs.StringVarP(&compression, "compression", "c", "none", "payload compression: none, zstd or lz4")
	if err := parse(fs, args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if output == "" {
		return errors.New("build: --output is required")
	}
	comp, err := readset.ParseCompression(compression)
	if err != nil {
		return err
	}
	hash, err := common.hash()
	if err != nil {
		return err
	}

	in := stdin
	switch fs.NArg() {
	case 0:
	case 1:
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	default:
		return fmt.Errorf("build: unexpected argument %q", fs.Arg(1))
	}

	keys, err := readLines(in)
	if err != nil {
		return fmt.Errorf("read keys: %w", err)
	}
	if len(keys) == 0 {
		return errors.New("build: no keys")
	}

	var set *readset.Set[string]
	if buckets == 0 {
		set, err = readset.NewLazy(hash, readset.Equal[string], common.options()...)
	} else {
		set, err = readset.New(buckets, hash, readset.Equal[string], common.options()...)
	}
	if err != nil {
		return err
	}
	defer set.Destroy()

	if err := set.Assign(keys); err != nil {
		return fmt.Errorf("build: %w", err)
	}
	if err := set.WriteFile(output, codec.String{}, readset.WithCompression(comp)); err != nil {
		return fmt.Errorf("write %s: %w", output, err)
	}
	fmt.Fprintf(stdout, "wrote %d keys in %d buckets to %s\n", set.Len(), set.BucketCount(), output)
	return nil
}

// openSet loads the container named by the first positional argument.
func openSet(fs *pflag.FlagSet, common *commonFlags) (*readset.Set[string], error) {
	if fs.NArg() < 1 {
		return nil, fmt.Errorf("%s: container path required", fs.Name())
	}
	hash, err := common.hash()
	if err != nil {
		return nil, err
	}
	return readset.Open(fs.Arg(0), hash, readset.Equal[string], codec.String{}, common.options()...)
}

func runQuery(args []string, stdin io.Reader, stdout io.Writer) error {
	var common commonFlags
	var quiet bool
	fs := pflag.NewFlagSet("readset query", pflag.ContinueOnError)
	common.register(fs)
	fs.BoolVarP(&quiet, "quiet", "q", false, "print nothing; report through the exit status only")
	if err := parse(fs, args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	set, err := openSet(fs, &common)
	if err != nil {
		return err
	}
	defer set.Destroy()

	keys := fs.Args()[1:]
	if len(keys) == 0 {
		if keys, err = readLines(stdin); err != nil {
			return fmt.Errorf("read keys: %w", err)
		}
	}

	w := bufio.NewWriter(stdout)
	missing := 0
	for _, k := range keys {
		res := set.Get(k)
		if res == readset.NotExists {
			missing++
		}
		if !quiet {
			fmt.Fprintf(w, "%s\t%s\n", k, res)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if missing > 0 {
		return errMissingKeys
	}
	return nil
}

func runStats(args []string, stdout io.Writer) error {
	var common commonFlags
	fs := pflag.NewFlagSet("readset stats", pflag.ContinueOnError)
	common.register(fs)
	if err := parse(fs, args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() < 1 {
		return errors.New("stats: container path required")
	}

	info, err := readset.InspectFile(fs.Arg(0))
	if err != nil {
		return err
	}
	set, err := openSet(fs, &common)
	if err != nil {
		return err
	}
	defer set.Destroy()
	st := set.Stats()

	fmt.Fprintf(stdout, "file:           %s\n", fs.Arg(0))
	fmt.Fprintf(stdout, "version:        %d\n", info.Version)
	fmt.Fprintf(stdout, "compression:    %s\n", info.Compression)
	fmt.Fprintf(stdout, "size:           %d bytes (payload %d, stream %d)\n", info.TotalSize, info.PayloadSize, info.RawSize)
	fmt.Fprintf(stdout, "keys:           %d\n", st.NumKeys)
	fmt.Fprintf(stdout, "buckets:        %d\n", st.NumBuckets)
	fmt.Fprintf(stdout, "empty buckets:  %d (%.1f%%)\n", st.EmptyBuckets, 100*float64(st.EmptyBuckets)/float64(st.NumBuckets))
	fmt.Fprintf(stdout, "longest bucket: %d\n", st.MaxBucketLen)
	fmt.Fprintf(stdout, "load factor:    %.3f\n", st.LoadFactor)
	return nil
}

func runDump(args []string, stdout io.Writer) error {
	var common commonFlags
	var perBucket bool
	fs := pflag.NewFlagSet("readset dump", pflag.ContinueOnError)
	common.register(fs)
	fs.BoolVar(&perBucket, "buckets", false, "prefix each key with its bucket index")
	if err := parse(fs, args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	set, err := openSet(fs, &common)
	if err != nil {
		return err
	}
	defer set.Destroy()

	w := bufio.NewWriter(stdout)
	if perBucket {
		for i := range set.BucketCount() {
			for _, k := range set.Bucket(i) {
				fmt.Fprintf(w, "%d\t%s\n", i, k)
			}
		}
	} else {
		for k := range set.All() {
			fmt.Fprintln(w, k)
		}
	}
	return w.Flush()
}
