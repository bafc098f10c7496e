// Command burstdedupd is a small CLI front end over a dedupcore pool:
// it can ingest a block, fetch one back out, run a sync pass, or print
// DDT/BSTT/HTDDT totals. It exists to exercise dedupcore/ingest and
// dedupcore/syncer end to end from outside their test suites, the way
// rubin-node exercises node end to end.
//
// Every invocation opens a fresh pool. Only the DDT persists between
// invocations (in the bbolt file); the HTDDT, BSTT and block content store
// are in memory, so get does not find a block stored by an earlier put,
// and sync and stats see empty BSTT and HTDDT tables.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"rubin.dev/dedup/checksum"
	"rubin.dev/dedup/dedupcore"
	"rubin.dev/dedup/dedupcore/ingest"
	"rubin.dev/dedup/dedupcore/syncer"
	"rubin.dev/dedup/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: burstdedupd <put|get|sync|stats> [flags]")
		return 2
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "put":
		return runPut(rest, stdout, stderr)
	case "get":
		return runGet(rest, stdout, stderr)
	case "sync":
		return runSync(rest, stdout, stderr)
	case "stats":
		return runStats(rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		return 2
	}
}

func commonFlags(fs *flag.FlagSet) (dataDir, poolName, algoName *string, txg *uint64) {
	defaults := dedupcore.DefaultPoolConfig()
	dataDir = fs.String("datadir", defaults.DataDir, "pool data directory")
	poolName = fs.String("pool", defaults.Name, "pool name")
	algoName = fs.String("algo", "sha256", "checksum algorithm: sha256|blake2b-256|sha3-256|fnv64")
	txgV := fs.Uint64("txg", 1, "transaction group number to stamp writes/frees with")
	txg = txgV
	return
}

func parseAlgorithm(name string) (checksum.Algorithm, error) {
	switch name {
	case "sha256":
		return checksum.AlgorithmSHA256, nil
	case "blake2b-256":
		return checksum.AlgorithmBlake2b256, nil
	case "sha3-256":
		return checksum.AlgorithmSHA3_256, nil
	case "fnv64":
		return checksum.AlgorithmFNV64, nil
	default:
		return checksum.AlgorithmInvalid, fmt.Errorf("unknown algorithm %q", name)
	}
}

func openPool(dataDir, poolName string, algo checksum.Algorithm, compressor pipeline.Compressor) (*syncer.Pool, error) {
	cfg := dedupcore.DefaultPoolConfig()
	cfg.Name = poolName
	cfg.DataDir = dataDir
	cfg.Algorithms = []checksum.Algorithm{algo}
	cfg.Compressor = compressor
	return syncer.Open(cfg, slog.Default())
}

func parseCompressor(name string) (pipeline.Compressor, error) {
	switch name {
	case "", "off":
		return pipeline.NewOffCompressor(), nil
	case "fsst":
		return pipeline.NewFSSTCompressor(), nil
	default:
		return nil, fmt.Errorf("unknown compressor %q", name)
	}
}

func runPut(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir, poolName, algoName, txg := commonFlags(fs)
	inPath := fs.String("in", "", "path to the block to ingest (required)")
	compressName := fs.String("compress", "off", "write-path compressor: off|fsst")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *inPath == "" {
		fmt.Fprintln(stderr, "put: -in is required")
		return 2
	}
	algo, err := parseAlgorithm(*algoName)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	compressor, err := parseCompressor(*compressName)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	data, err := os.ReadFile(filepath.Clean(*inPath))
	if err != nil {
		fmt.Fprintf(stderr, "read %s: %v\n", *inPath, err)
		return 1
	}
	pool, err := openPool(*dataDir, *poolName, algo, compressor)
	if err != nil {
		fmt.Fprintf(stderr, "open pool: %v\n", err)
		return 1
	}
	defer pool.Close()

	bp, err := ingest.Put(pool, algo, data, *txg)
	if err != nil {
		fmt.Fprintf(stderr, "put: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "checksum=%s lsize=%d psize=%d dedup=%v compress=%v\n",
		hex.EncodeToString(bp.Checksum[:]), bp.LSize, bp.PSize, bp.Dedup, bp.Compress)
	return 0
}

func runGet(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir, poolName, algoName, _ := commonFlags(fs)
	checksumHex := fs.String("checksum", "", "hex-encoded checksum to fetch (required)")
	outPath := fs.String("out", "", "path to write the reconstructed block to (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *checksumHex == "" {
		fmt.Fprintln(stderr, "get: -checksum is required")
		return 2
	}
	algo, err := parseAlgorithm(*algoName)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	raw, err := hex.DecodeString(*checksumHex)
	if err != nil {
		fmt.Fprintf(stderr, "bad checksum hex: %v\n", err)
		return 2
	}
	var key checksum.Value
	copy(key[:], raw)

	pool, err := openPool(*dataDir, *poolName, algo, pipeline.NewOffCompressor())
	if err != nil {
		fmt.Fprintf(stderr, "open pool: %v\n", err)
		return 1
	}
	defer pool.Close()

	data, err := ingest.Get(pool, algo, key)
	if err != nil {
		fmt.Fprintf(stderr, "get: %v\n", err)
		return 1
	}
	if *outPath == "" {
		_, _ = stdout.Write(data)
		return 0
	}
	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		fmt.Fprintf(stderr, "write %s: %v\n", *outPath, err)
		return 1
	}
	return 0
}

func runSync(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir, poolName, algoName, txg := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	algo, err := parseAlgorithm(*algoName)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	pool, err := openPool(*dataDir, *poolName, algo, pipeline.NewOffCompressor())
	if err != nil {
		fmt.Fprintf(stderr, "open pool: %v\n", err)
		return 1
	}
	defer pool.Close()

	var coord syncer.Coordinator
	if err := coord.Sync(pool, *txg); err != nil {
		fmt.Fprintf(stderr, "sync: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "sync: txg=%d freed=%d\n", *txg, pool.Freer().Freed())
	return 0
}

func runStats(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir, poolName, algoName, _ := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	algo, err := parseAlgorithm(*algoName)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	pool, err := openPool(*dataDir, *poolName, algo, pipeline.NewOffCompressor())
	if err != nil {
		fmt.Fprintf(stderr, "open pool: %v\n", err)
		return 1
	}
	defer pool.Close()

	dt := pool.DDT(algo)
	hist, err := dt.ComputeHistogram()
	if err != nil {
		fmt.Fprintf(stderr, "histogram: %v\n", err)
		return 1
	}
	var totalEntries, totalBlocks, totalRefBlocks, totalBytes uint64
	for _, b := range hist {
		totalEntries += b.Entries
		totalBlocks += b.Blocks
		totalRefBlocks += b.RefBlocks
		totalBytes += b.Bytes
	}
	fmt.Fprintf(stdout, "ddt: entries=%d blocks=%d ref_blocks=%d bytes=%d\n",
		totalEntries, totalBlocks, totalRefBlocks, totalBytes)
	fmt.Fprintf(stdout, "bstt: entries=%d\n", pool.BSTT(algo).Len())
	fmt.Fprintf(stdout, "htddt: head=%d tail=%d\n",
		pool.HTDDT(algo, dedupcore.SideHead).Len(), pool.HTDDT(algo, dedupcore.SideTail).Len())
	return 0
}
