// Package readset implements a read-only hash set.
//
// A Set is built once from a key collection and afterwards only answers
// membership queries, enumerates its keys, and serializes itself. All keys
// live in one contiguous arena ordered by bucket, delimited by a table of
// bucket boundaries, so a query hashes the key and scans a single short run
// of the arena.
//
// # Basic Usage
//
//	set, err := readset.New(1024, readset.HashString, readset.Equal[string])
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer set.Destroy()
//
//	if err := set.Assign([]string{"alpha", "beta", "gamma"}); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(set.Get("beta")) // exists
//
// Persisting and reloading:
//
//	if err := set.WriteFile("names.rset", codec.String{}, readset.WithCompression(readset.CompressionZstd)); err != nil {
//	    log.Fatal(err)
//	}
//	loaded, err := readset.Open("names.rset", readset.HashString, readset.Equal[string], codec.String{})
//
// # Memory
//
// A set draws memory from three allocation channels: bucket-boundary
// markers, stored elements, and the transient working records of a build.
// Each channel can be replaced (WithTableAllocator, WithElementAllocator,
// WithRecordAllocator), backed by anonymous memory maps (WithMmapScratch),
// or capped by a shared byte budget (WithMemoryBudget). A failed
// allocation surfaces as ErrAllocationFailed and leaves no partial state.
//
// # Package Structure
//
//   - Set and its lifecycle: set.go (New, Create, Assign, Get, Destroy, CopyFrom)
//   - Build: builder.go (record sort and table fill)
//   - Configuration: options.go (Option, With* functions, Allocator)
//   - Hash strategies: hash.go
//   - Streams: serialize.go (Serialize, Deserialize); element codecs in codec/
//   - Containers: header.go, compression.go, container.go (WriteFile, Open)
//   - Channels: internal/alloc/ (heap, mmap, budget)
//   - Platform: platform_*.go (OS-specific file preallocation and advice)
package readset
