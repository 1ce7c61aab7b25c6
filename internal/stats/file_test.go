package stats

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats.ssx")
	if err := WriteFile(path, sampleShards()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestFileRoundTrip(t *testing.T) {
	path := writeSample(t)
	shards, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := sampleShards()
	if len(shards) != len(want) {
		t.Fatalf("got %d shards, want %d", len(shards), len(want))
	}
	for i, shard := range shards {
		if shard.DocumentCount != want[i].DocumentCount {
			t.Errorf("shard %d: DocumentCount = %d, want %d", i, shard.DocumentCount, want[i].DocumentCount)
		}
		if len(shard.Terms) != len(want[i].Terms) {
			t.Errorf("shard %d: got %d terms, want %d", i, len(shard.Terms), len(want[i].Terms))
		}
		for term, ts := range want[i].Terms {
			if got := shard.Terms[term]; got != ts {
				t.Errorf("shard %d term %q = %+v, want %+v", i, term, got, ts)
			}
		}
	}
}

func TestFileNoTempLeftover(t *testing.T) {
	path := writeSample(t)
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestWriteFileRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.ssx")
	if err := WriteFile(path, nil); err == nil {
		t.Fatal("WriteFile(nil) should fail")
	}
}

func TestReadFileBadMagic(t *testing.T) {
	path := writeSample(t)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	binary.LittleEndian.PutUint32(data[0:4], 0xDEADBEEF)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ReadFile(path); err == nil || !strings.Contains(err.Error(), "magic") {
		t.Fatalf("err = %v, want bad magic", err)
	}
}

func TestReadFileBadVersion(t *testing.T) {
	path := writeSample(t)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	binary.LittleEndian.PutUint32(data[4:8], 99)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ReadFile(path); err == nil || !strings.Contains(err.Error(), "version") {
		t.Fatalf("err = %v, want unsupported version", err)
	}
}

func TestReadFileCorruptedBody(t *testing.T) {
	path := writeSample(t)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Flip one bit inside a float payload; the crc check must catch it.
	data[len(data)-FooterSize-3] ^= 0x01
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Fatal("corrupted body should fail to read")
	}
}

func TestReadFileTruncated(t *testing.T) {
	path := writeSample(t)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, n := range []int{0, HeaderSize - 1, HeaderSize + 5, len(data) - FooterSize - 1} {
		if err := os.WriteFile(path, data[:n], 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		if _, err := ReadFile(path); err == nil {
			t.Errorf("truncation to %d bytes should fail to read", n)
		}
	}
}
