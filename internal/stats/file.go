package stats

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Statistics file layout (.ssx), little-endian:
//
//	header (32 bytes): magic, version, shard count, reserved, created-at
//	per shard: doc count, term count, then fixed-shape term records
//	footer (8 bytes): crc32 of all shard blocks, shard count echo
const (
	MagicBytes    uint32 = 0x53535458 // "SSTX"
	FormatVersion uint32 = 1
	HeaderSize    int    = 32
	FooterSize    int    = 8
)

// WriteFile atomically writes shard statistics to path. It writes to a .tmp
// file first and renames on success, so readers never observe a partial file.
func WriteFile(path string, shards []ShardStatistics) error {
	if len(shards) == 0 {
		return fmt.Errorf("cannot write empty statistics file")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating statistics directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp statistics file: %w", err)
	}
	defer f.Close()

	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(shards)))
	binary.LittleEndian.PutUint64(header[16:24], uint64(time.Now().Unix()))
	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	crc := crc32.NewIEEE()
	w := bufio.NewWriter(io.MultiWriter(f, crc))
	for shardID, shard := range shards {
		terms := make([]string, 0, len(shard.Terms))
		for term := range shard.Terms {
			terms = append(terms, term)
		}
		sort.Strings(terms)

		if err := writeUint64(w, uint64(shard.DocumentCount)); err != nil {
			return fmt.Errorf("shard %d: writing document count: %w", shardID, err)
		}
		if err := writeUint32(w, uint32(len(terms))); err != nil {
			return fmt.Errorf("shard %d: writing term count: %w", shardID, err)
		}
		for _, term := range terms {
			ts := shard.Terms[term]
			if err := writeString(w, term); err != nil {
				return fmt.Errorf("shard %d: writing term %q: %w", shardID, term, err)
			}
			if err := writeUint64(w, uint64(ts.Frequency)); err != nil {
				return fmt.Errorf("shard %d: writing frequency for %q: %w", shardID, term, err)
			}
			if err := writeFloat64(w, ts.Mean); err != nil {
				return fmt.Errorf("shard %d: writing mean for %q: %w", shardID, term, err)
			}
			if err := writeFloat64(w, ts.Variance); err != nil {
				return fmt.Errorf("shard %d: writing variance for %q: %w", shardID, term, err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing statistics body: %w", err)
	}

	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], uint32(len(shards)))
	if _, err := f.Write(footer); err != nil {
		return fmt.Errorf("writing footer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing statistics file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming statistics file: %w", err)
	}
	return nil
}

// ReadFile reads a statistics file written by WriteFile. Individual records
// are returned as-is; validation and dropping happen in NewSnapshot.
func ReadFile(path string) ([]ShardStatistics, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening statistics file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("statting statistics file: %w", err)
	}
	bodySize := info.Size() - int64(HeaderSize) - int64(FooterSize)
	if bodySize < 0 {
		return nil, fmt.Errorf("statistics file truncated: %d bytes", info.Size())
	}

	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != MagicBytes {
		return nil, fmt.Errorf("invalid statistics file: bad magic bytes %x", magic)
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version != FormatVersion {
		return nil, fmt.Errorf("unsupported statistics format version %d", version)
	}
	shardCount := binary.LittleEndian.Uint32(header[8:12])
	if shardCount == 0 {
		return nil, fmt.Errorf("statistics file contains no shards")
	}

	// The crc tee is limited to the body so buffered read-ahead never mixes
	// footer bytes into the checksum.
	crc := crc32.NewIEEE()
	r := bufio.NewReader(io.TeeReader(io.LimitReader(f, bodySize), crc))
	shards := make([]ShardStatistics, shardCount)
	for shardID := range shards {
		docCount, err := readUint64(r)
		if err != nil {
			return nil, fmt.Errorf("shard %d: reading document count: %w", shardID, err)
		}
		termCount, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("shard %d: reading term count: %w", shardID, err)
		}
		shard := ShardStatistics{
			DocumentCount: int64(docCount),
			Terms:         make(map[string]TermStats, termCount),
		}
		for i := uint32(0); i < termCount; i++ {
			term, err := readString(r)
			if err != nil {
				return nil, fmt.Errorf("shard %d: reading term: %w", shardID, err)
			}
			freq, err := readUint64(r)
			if err != nil {
				return nil, fmt.Errorf("shard %d: reading frequency for %q: %w", shardID, term, err)
			}
			mean, err := readFloat64(r)
			if err != nil {
				return nil, fmt.Errorf("shard %d: reading mean for %q: %w", shardID, term, err)
			}
			variance, err := readFloat64(r)
			if err != nil {
				return nil, fmt.Errorf("shard %d: reading variance for %q: %w", shardID, term, err)
			}
			shard.Terms[term] = TermStats{
				Frequency: int64(freq),
				Mean:      mean,
				Variance:  variance,
			}
		}
		shards[shardID] = shard
	}

	if n, _ := io.Copy(io.Discard, r); n > 0 {
		return nil, fmt.Errorf("statistics file corrupted: %d trailing body bytes", n)
	}
	bodyCRC := crc.Sum32()
	footer := make([]byte, FooterSize)
	if _, err := io.ReadFull(f, footer); err != nil {
		return nil, fmt.Errorf("reading footer: %w", err)
	}
	wantCRC := binary.LittleEndian.Uint32(footer[0:4])
	if bodyCRC != wantCRC {
		return nil, fmt.Errorf("statistics file corrupted: crc mismatch (got %x, want %x)", bodyCRC, wantCRC)
	}
	return shards, nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeFloat64(w io.Writer, v float64) error {
	return writeUint64(w, math.Float64bits(v))
}

func writeString(w io.Writer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("term too long: %d bytes", len(s))
	}
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(len(s)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func readFloat64(r io.Reader) (float64, error) {
	bits, err := readUint64(r)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

func readString(r io.Reader) (string, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint16(buf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
