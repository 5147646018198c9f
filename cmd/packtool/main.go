// Command packtool inspects and extracts game content archives and
// probes WAV assets.
//
// Defaults can come from a .env file or the environment: PACKTOOL_ARCHIVE
// names the archive when -a is not given.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/joho/godotenv"
	"github.com/jotfs/fastcdc-go"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/angguss/vfstream/vfs"
	"github.com/angguss/vfstream/wav"
	"github.com/angguss/vfstream/zipfile"
)

func main() {
	_ = godotenv.Load()

	var (
		archiveFlag, extractFlag, outFlag string
		extractAllFlag, wavFlag           string
		mountFlag, chunksFlag             string
		listFlag, sumFlag, verboseFlag    bool
		workersFlag                       int
	)

	flag.StringVar(&archiveFlag, "a", os.Getenv("PACKTOOL_ARCHIVE"), "archive to operate on")
	flag.BoolVar(&listFlag, "l", false, "list archive entries")
	flag.BoolVar(&sumFlag, "sum", false, "include xxhash digests in the listing")
	flag.StringVar(&extractFlag, "x", "", "entry to extract")
	flag.StringVar(&outFlag, "o", "", "output filename for -x (default: entry basename)")
	flag.StringVar(&extractAllFlag, "X", "", "extract every entry into the given directory")
	flag.StringVar(&chunksFlag, "chunks", "", "print content-defined chunk digests of an entry")
	flag.StringVar(&wavFlag, "wav", "", "probe a WAV file and print its format")
	flag.StringVar(&mountFlag, "mount", "", "mount a directory or archive and resolve paths through it")
	flag.IntVar(&workersFlag, "j", 4, "extraction workers for -X")
	flag.BoolVar(&verboseFlag, "v", false, "be verbose")

	flag.Parse()

	var err error
	var logger *zap.Logger
	if verboseFlag {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal("failed to initialize logger", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	archiveOpts := []zipfile.Option{zipfile.WithLogger(logger)}
	wavOpts := []wav.Option{wav.WithLogger(logger)}
	if mountFlag != "" {
		if err := vfs.Init(); err != nil {
			logger.Fatal("failed to initialize mounts", zap.Error(err))
		}
		defer func() {
			if err := vfs.Deinit(); err != nil {
				logger.Warn("failed to tear down mounts", zap.Error(err))
			}
		}()
		if err := vfs.Mount(mountFlag, ""); err != nil {
			logger.Fatal("failed to mount", zap.String("source", mountFlag), zap.Error(err))
		}
		archiveOpts = append(archiveOpts, zipfile.WithVirtualFS())
		wavOpts = append(wavOpts, wav.WithVirtualFS())
	}

	if wavFlag != "" {
		probeWAV(logger, wavFlag, wavOpts)
		return
	}

	if archiveFlag == "" {
		logger.Fatal("no archive given, use -a or PACKTOOL_ARCHIVE")
	}

	switch {
	case listFlag:
		listEntries(logger, archiveFlag, sumFlag, archiveOpts)
	case extractFlag != "":
		extractOne(logger, archiveFlag, extractFlag, outFlag, archiveOpts)
	case chunksFlag != "":
		listChunks(logger, archiveFlag, chunksFlag, archiveOpts)
	case extractAllFlag != "":
		if err := extractAll(logger, archiveFlag, extractAllFlag, workersFlag, archiveOpts); err != nil {
			logger.Fatal("extraction failed", zap.Error(err))
		}
	default:
		logger.Fatal("nothing to do, use -l, -x, -X, -chunks or -wav")
	}
}

func probeWAV(logger *zap.Logger, path string, opts []wav.Option) {
	src, err := wav.Open(path, opts...)
	if err != nil {
		logger.Fatal("failed to load wav", zap.String("path", path), zap.Error(err))
	}
	defer src.Close()

	f := src.Format()
	fmt.Printf("%s: %d ch, %d Hz, %s, %d data bytes\n",
		path, f.Channels, f.SampleRate, f.Sample, src.Length())
}

func listEntries(logger *zap.Logger, path string, withSums bool, opts []zipfile.Option) {
	a, err := zipfile.Open(path, zipfile.AccessRead, opts...)
	if err != nil {
		logger.Fatal("failed to open archive", zap.String("path", path), zap.Error(err))
	}
	defer a.Close()

	for i := 0; i < a.EntryCount(); i++ {
		name := a.EntryName(i)
		if withSums {
			fmt.Printf("%10d  %016x  %s\n", a.EntrySize(i), xxhash.Sum64(a.Extract(name)), name)
		} else {
			fmt.Printf("%10d  %s\n", a.EntrySize(i), name)
		}
	}
}

func extractOne(logger *zap.Logger, path, entry, out string, opts []zipfile.Option) {
	a, err := zipfile.Open(path, zipfile.AccessRead, opts...)
	if err != nil {
		logger.Fatal("failed to open archive", zap.String("path", path), zap.Error(err))
	}
	defer a.Close()

	data := a.Extract(entry)
	if len(data) == 0 {
		logger.Fatal("entry is absent or empty", zap.String("entry", entry))
	}
	if out == "" {
		out = filepath.Base(strings.ReplaceAll(entry, "\\", "/"))
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		logger.Fatal("failed to write output", zap.String("path", out), zap.Error(err))
	}
	logger.Info("extracted entry",
		zap.String("entry", entry),
		zap.String("out", out),
		zap.Int("bytes", len(data)))
}

type chunkDigest struct {
	offset int
	length int
	sum    uint64
}

// chunkDigests splits data into content-defined chunks and digests each
// one. Chunk boundaries follow the content, so identical regions hash
// identically across archive versions even when their offsets shift.
func chunkDigests(data []byte) ([]chunkDigest, error) {
	chunker, err := fastcdc.NewChunker(bytes.NewReader(data), fastcdc.Options{
		MinSize:     4 * 1024,
		AverageSize: 16 * 1024,
		MaxSize:     64 * 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	var out []chunkDigest
	for {
		chunk, err := chunker.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to chunk: %w", err)
		}
		out = append(out, chunkDigest{
			offset: chunk.Offset,
			length: chunk.Length,
			sum:    xxhash.Sum64(chunk.Data),
		})
	}
	return out, nil
}

func listChunks(logger *zap.Logger, path, entry string, opts []zipfile.Option) {
	a, err := zipfile.Open(path, zipfile.AccessRead, opts...)
	if err != nil {
		logger.Fatal("failed to open archive", zap.String("path", path), zap.Error(err))
	}
	defer a.Close()

	data := a.Extract(entry)
	if len(data) == 0 {
		logger.Fatal("entry is absent or empty", zap.String("entry", entry))
	}
	digests, err := chunkDigests(data)
	if err != nil {
		logger.Fatal("failed to digest entry", zap.String("entry", entry), zap.Error(err))
	}
	for _, d := range digests {
		fmt.Printf("%10d  %8d  %016x\n", d.offset, d.length, d.sum)
	}
}

func extractAll(logger *zap.Logger, path, dir string, workers int, opts []zipfile.Option) error {
	a, err := zipfile.Open(path, zipfile.AccessRead, opts...)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	var names []string
	for i := 0; i < a.EntryCount(); i++ {
		if name := a.EntryName(i); !strings.HasSuffix(name, "/") {
			names = append(names, name)
		}
	}
	if err := a.Close(); err != nil {
		return err
	}

	bar := progressbar.Default(int64(len(names)), "extracting")

	// An Archive is not safe for concurrent use, so every worker gets
	// its own session.
	var g errgroup.Group
	g.SetLimit(workers)
	for _, name := range names {
		name := name
		g.Go(func() error {
			ar := zipfile.TryOpen(path, zipfile.AccessRead, opts...)
			if ar == nil {
				return fmt.Errorf("failed to reopen archive %q", path)
			}
			defer ar.Close()

			data := ar.Extract(name)
			dst := filepath.Join(dir, filepath.FromSlash(strings.ReplaceAll(name, "\\", "/")))
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return fmt.Errorf("failed to create %q: %w", filepath.Dir(dst), err)
			}
			if err := os.WriteFile(dst, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %q: %w", dst, err)
			}
			return bar.Add(1)
		})
	}
	return g.Wait()
}
