// Bench is a benchmarking tool for measuring readset build performance,
// query throughput, container size, and memory usage.
//
// Usage:
//
//	go run ./cmd/bench --keys 10000000 --workers 8 --readers 4
//
// Flags:
//
//	--keys         Number of keys (default: 10,000,000)
//	--key-size     Key size in bytes (default: 16)
//	--buckets      Bucket count, 0 for four per key (default: 0)
//	--hash         Hash strategy: xxh3, xxhash or murmur3 (default: xxh3)
//	--workers      Goroutines hashing keys during the build (default: 1)
//	--readers      Goroutines issuing queries (default: 1)
//	--mmap         Back the table and build scratch with anonymous maps
//	--compression  Container compression: none, zstd or lz4 (default: none)
package main

import (
	"crypto/rand"
	"fmt"
	mrand "math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"runtime/metrics"
	"runtime/pprof"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/tamirms/readset"
	"github.com/tamirms/readset/codec"
)

// getMaxRSS returns the maximum resident set size in bytes.
// Uses getrusage(RUSAGE_SELF) which tracks peak RSS since process start.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// On macOS, MaxRss is in bytes. On Linux, it's in kilobytes.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024
	}
	return maxRSS
}

// peakSampler tracks peak heap and RSS every 10ms. It reads runtime/metrics
// rather than ReadMemStats to avoid stop-the-world pauses.
type peakSampler struct {
	heap atomic.Uint64
	rss  atomic.Uint64
	done chan struct{}
}

func startSampler(baselineHeap, baselineRSS uint64) *peakSampler {
	p := &peakSampler{done: make(chan struct{})}
	p.heap.Store(baselineHeap)
	p.rss.Store(baselineRSS)
	go func() {
		samples := []metrics.Sample{{Name: "/memory/classes/heap/objects:bytes"}}
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-p.done:
				return
			case <-ticker.C:
				metrics.Read(samples)
				storeMax(&p.heap, samples[0].Value.Uint64())
				storeMax(&p.rss, getMaxRSS())
			}
		}
	}()
	return p
}

func (p *peakSampler) stop() {
	close(p.done)
	var final runtime.MemStats
	runtime.ReadMemStats(&final)
	storeMax(&p.heap, final.Alloc)
	storeMax(&p.rss, getMaxRSS())
}

func storeMax(v *atomic.Uint64, x uint64) {
	for {
		old := v.Load()
		if x <= old || v.CompareAndSwap(old, x) {
			return
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("bench", pflag.ContinueOnError)
	numKeys := fs.Int("keys", 10_000_000, "number of keys")
	keySize := fs.Int("key-size", 16, "key size in bytes")
	buckets := fs.Int("buckets", 0, "bucket count (0 = four per key)")
	hashName := fs.String("hash", "xxh3", "hash strategy: xxh3, xxhash or murmur3")
	workers := fs.Int("workers", 1, "goroutines hashing keys during the build")
	readers := fs.Int("readers", 1, "goroutines issuing queries")
	numQueries := fs.Int("queries", 1_000_000, "queries per reader")
	useMmap := fs.Bool("mmap", false, "back the table and build scratch with anonymous maps")
	compression := fs.String("compression", "none", "container compression: none, zstd or lz4")
	cpuprofile := fs.String("cpuprofile", "", "write cpu profile to file (build phase only)")
	memprofile := fs.String("memprofile", "", "write memory profile to file (build phase only)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if *numKeys <= 0 || *keySize <= 0 {
		return fmt.Errorf("--keys and --key-size must be positive")
	}

	var hash readset.HashFunc[[]byte]
	switch *hashName {
	case "xxh3":
		hash = readset.HashBytes
	case "xxhash":
		hash = readset.XXHashBytes
	case "murmur3":
		hash = readset.Murmur3Bytes(0x1234)
	default:
		return fmt.Errorf("unknown hash strategy %q", *hashName)
	}
	comp, err := readset.ParseCompression(*compression)
	if err != nil {
		return err
	}

	fmt.Println("Generating keys...")
	keys := make([][]byte, *numKeys)
	arena := make([]byte, *numKeys**keySize)
	_, _ = rand.Read(arena) // crypto/rand.Read error is fatal system issue; ignore for benchmark
	for i := range keys {
		keys[i] = arena[i**keySize : (i+1)**keySize]
	}

	opts := []readset.Option{readset.WithWorkers(*workers)}
	if *useMmap {
		opts = append(opts, readset.WithMmapScratch())
	}
	var set *readset.Set[[]byte]
	if *buckets == 0 {
		set, err = readset.NewLazy(hash, readset.BytesEqual, opts...)
	} else {
		set, err = readset.New(*buckets, hash, readset.BytesEqual, opts...)
	}
	if err != nil {
		return err
	}
	defer set.Destroy()

	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	var baseline runtime.MemStats
	runtime.ReadMemStats(&baseline)
	baselineRSS := getMaxRSS()
	sampler := startSampler(baseline.Alloc, baselineRSS)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer func() { _ = f.Close() }()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
	}

	fmt.Println("Building set...")
	buildStart := time.Now()
	err = set.Assign(keys)
	buildDuration := time.Since(buildStart)

	if *cpuprofile != "" {
		pprof.StopCPUProfile()
	}
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Printf("could not create memory profile: %v\n", err)
		} else {
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Printf("could not write memory profile: %v\n", err)
			}
			_ = f.Close()
		}
	}
	sampler.stop()
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	peakHeapMem := sampler.heap.Load() - baseline.Alloc
	peakRSSMem := sampler.rss.Load() - baselineRSS

	tmpDir, err := os.MkdirTemp("", "bench-")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	path := filepath.Join(tmpDir, "bench.rset")

	fmt.Println("Writing container...")
	writeStart := time.Now()
	if err := set.WriteFile(path, codec.Bytes{}, readset.WithCompression(comp)); err != nil {
		return err
	}
	writeDuration := time.Since(writeStart)
	info, err := readset.InspectFile(path)
	if err != nil {
		return err
	}

	fmt.Println("Reopening container...")
	openStart := time.Now()
	loaded, err := readset.Open(path, hash, readset.BytesEqual, codec.Bytes{}, opts...)
	if err != nil {
		return err
	}
	defer loaded.Destroy()
	openDuration := time.Since(openStart)

	// Half the queried keys are members, half are fresh random keys.
	misses := make([][]byte, min(*numKeys, 1<<20))
	missArena := make([]byte, len(misses)**keySize)
	_, _ = rand.Read(missArena)
	for i := range misses {
		misses[i] = missArena[i**keySize : (i+1)**keySize]
	}

	fmt.Println("Benchmarking queries...")
	var hits atomic.Int64
	var g errgroup.Group
	queryStart := time.Now()
	for r := range *readers {
		g.Go(func() error {
			rng := mrand.New(mrand.NewPCG(uint64(r), 0x9E3779B97F4A7C15))
			var local int64
			for i := range *numQueries {
				var k []byte
				if i&1 == 0 {
					k = keys[rng.IntN(len(keys))]
				} else {
					k = misses[rng.IntN(len(misses))]
				}
				if loaded.Contains(k) {
					local++
				}
			}
			hits.Add(local)
			return nil
		})
	}
	_ = g.Wait()
	queryDuration := time.Since(queryStart)
	totalQueries := *readers * *numQueries
	avgLatency := float64(queryDuration.Nanoseconds()) * float64(*readers) / float64(totalQueries) / 1000
	hitRate := 100 * float64(hits.Load()) / float64(totalQueries)

	st := loaded.Stats()
	bitsPerKey := float64(info.TotalSize*8) / float64(*numKeys)

	fmt.Printf("\n")
	fmt.Printf("╔═════════════════════╦════════════════╦══════════════════╗\n")
	fmt.Printf("║ Hash: %-14s║ Comp: %-8s ║ Readers: %-8d║\n", *hashName, comp, *readers)
	fmt.Printf("╠═════════════════════╬════════════════╬══════════════════╣\n")
	fmt.Printf("║ Metric              ║ Value          ║ Detail           ║\n")
	fmt.Printf("╠═════════════════════╬════════════════╬══════════════════╣\n")
	fmt.Printf("║ Buckets             ║ %14d ║ %5.2f keys/bkt   ║\n", st.NumBuckets, st.LoadFactor)
	fmt.Printf("║ Empty buckets       ║ %14d ║ max len %-8d ║\n", st.EmptyBuckets, st.MaxBucketLen)
	fmt.Printf("║ Container size      ║ %6.3f bits/key║ %8.1f MB      ║\n", bitsPerKey, float64(info.TotalSize)/1_000_000)
	fmt.Printf("║ Query latency       ║ %6.3f μs      ║ hits %5.1f%%      ║\n", avgLatency, hitRate)
	fmt.Printf("║ Query throughput    ║ %6.2f M/sec   ║ -                ║\n", float64(totalQueries)/queryDuration.Seconds()/1_000_000)
	fmt.Printf("║ Build time          ║ %6.2f sec     ║ -                ║\n", buildDuration.Seconds())
	fmt.Printf("║ Build throughput    ║ %6.2f M/sec   ║ -                ║\n", float64(*numKeys)/buildDuration.Seconds()/1_000_000)
	fmt.Printf("║ Write time          ║ %6.2f sec     ║ -                ║\n", writeDuration.Seconds())
	fmt.Printf("║ Open time           ║ %6.2f sec     ║ -                ║\n", openDuration.Seconds())
	fmt.Printf("║ Peak heap memory    ║ %6.1f MB      ║ build only       ║\n", float64(peakHeapMem)/1_000_000)
	fmt.Printf("║ Peak RSS memory     ║ %6.1f MB      ║ build only       ║\n", float64(peakRSSMem)/1_000_000)
	fmt.Printf("╚═════════════════════╩════════════════╩══════════════════╝\n")
	return nil
}
