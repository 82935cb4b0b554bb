package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// cifarEntry is one file destined for a synthetic archive.
type cifarEntry struct {
	name string
	data []byte
}

// writeCIFARTarGz builds a tar.gz in dir that mimics the official
// archive layout: a cifar-10-batches-bin/ directory with the given
// files inside it.
func writeCIFARTarGz(t *testing.T, dir string, entries []cifarEntry) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	if err := tw.WriteHeader(&tar.Header{
		Name:     "cifar-10-batches-bin/",
		Typeflag: tar.TypeDir,
		Mode:     0o755,
	}); err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     "cifar-10-batches-bin/" + e.name,
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(e.data)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(e.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "cifar-10-binary.tar.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// cifarTestRecord builds one 3073-byte record: a label byte followed
// by constant-valued red, green and blue planes.
func cifarTestRecord(label, r, g, b byte) []byte {
	rec := make([]byte, cifarRecordSize)
	rec[0] = label
	plane := 32 * 32
	for i := 0; i < plane; i++ {
		rec[1+i] = r
		rec[1+plane+i] = g
		rec[1+2*plane+i] = b
	}
	return rec
}

var cifarTestClasses = []string{
	"airplane", "automobile", "bird", "cat", "deer",
	"dog", "frog", "horse", "ship", "truck",
}

func TestReadCIFARArchive(t *testing.T) {
	// The official meta file ends with a blank line.
	meta := strings.Join(cifarTestClasses, "\n") + "\n\n"
	batch1 := append(cifarTestRecord(0, 1, 2, 3), cifarTestRecord(9, 4, 5, 6)...)
	testBatch := cifarTestRecord(3, 7, 8, 9)

	path := writeCIFARTarGz(t, t.TempDir(), []cifarEntry{
		{"data_batch_1.bin", batch1},
		{"test_batch.bin", testBatch},
		{"batches.meta.txt", []byte(meta)},
		{"readme.html", []byte("<html></html>")}, // ignored
	})

	batches, classes, err := readCIFARArchive(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(classes, cifarTestClasses) {
		t.Errorf("classes = %v", classes)
	}
	if len(batches) != 2 {
		t.Fatalf("collected %d batch files, want 2 (readme must be skipped)", len(batches))
	}
	if got := len(batches["data_batch_1.bin"]); got != 2*cifarRecordSize {
		t.Errorf("data_batch_1.bin has %d bytes, want %d", got, 2*cifarRecordSize)
	}
	if got := len(batches["test_batch.bin"]); got != cifarRecordSize {
		t.Errorf("test_batch.bin has %d bytes, want %d", got, cifarRecordSize)
	}
}

func TestReadCIFARArchiveErrors(t *testing.T) {
	t.Run("missing meta", func(t *testing.T) {
		path := writeCIFARTarGz(t, t.TempDir(), []cifarEntry{
			{"data_batch_1.bin", cifarTestRecord(0, 0, 0, 0)},
		})
		_, _, err := readCIFARArchive(path)
		if err == nil || !strings.Contains(err.Error(), "has no batches.meta.txt") {
			t.Errorf("expected a missing-meta error, got %v", err)
		}
	})

	t.Run("not gzip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bogus.tar.gz")
		if err := os.WriteFile(path, []byte("plain text"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, _, err := readCIFARArchive(path)
		if err == nil || !strings.Contains(err.Error(), "gunzip") {
			t.Errorf("expected a gunzip error, got %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := readCIFARArchive(filepath.Join(t.TempDir(), "nope.tar.gz"))
		if err == nil || !strings.Contains(err.Error(), "open") {
			t.Errorf("expected an open error, got %v", err)
		}
	})
}

func TestParseClassList(t *testing.T) {
	got := parseClassList([]byte("airplane\n\n  cat  \ntruck\n\n"))
	want := []string{"airplane", "cat", "truck"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseClassList = %v, want %v", got, want)
	}
	if parseClassList(nil) != nil {
		t.Error("empty input should yield no classes")
	}
}

func TestParseCIFARRecords(t *testing.T) {
	set := NewImageSet("t", []int{3, 32, 32}, cifarTestClasses)
	data := append(cifarTestRecord(3, 10, 20, 30), cifarTestRecord(0, 1, 2, 3)...)

	if err := parseCIFARRecords(set, data, "data_batch_1.bin"); err != nil {
		t.Fatal(err)
	}
	if set.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", set.Len())
	}
	if set.Label(0) != 3 || set.Label(1) != 0 {
		t.Errorf("labels = %d, %d, want 3, 0", set.Label(0), set.Label(1))
	}

	// Channel-major planes copy straight into the sample block:
	// bytes [0,1024) red, [1024,2048) green, [2048,3072) blue.
	px := set.Sample(0)
	for i, want := range map[int]uint8{0: 10, 1023: 10, 1024: 20, 2047: 20, 2048: 30, 3071: 30} {
		if px[i] != want {
			t.Errorf("pixel %d = %d, want %d", i, px[i], want)
		}
	}
}

func TestParseCIFARRecordsErrors(t *testing.T) {
	set := NewImageSet("t", []int{3, 32, 32}, []string{"a", "b"})

	truncated := cifarTestRecord(0, 0, 0, 0)[:cifarRecordSize-1]
	if err := parseCIFARRecords(set, truncated, "bad.bin"); err == nil ||
		!strings.Contains(err.Error(), "is truncated") {
		t.Errorf("expected a truncation error, got %v", err)
	}

	badLabel := cifarTestRecord(7, 0, 0, 0)
	if err := parseCIFARRecords(set, badLabel, "bad.bin"); err == nil ||
		!strings.Contains(err.Error(), "label 7") {
		t.Errorf("expected a label range error, got %v", err)
	}
}
