package main

/*
WHAT'S GOING ON HERE?

CIFAR-10: 60,000 tiny color photographs, 32x32 RGB, ten classes,
split 50,000 train / 10,000 test. The binary release is one tar.gz
containing five training batches plus a test batch:

  cifar-10-batches-bin/
    data_batch_1.bin ... data_batch_5.bin   10,000 records each
    test_batch.bin                          10,000 records
    batches.meta.txt                        class names, one per line

Each record is exactly 3073 bytes: one label byte (0-9) followed by
3072 pixel bytes laid out as full channel planes, 1024 red then 1024
green then 1024 blue, each plane row-major 32x32. That plane layout is
exactly the (channels, height, width) order ImageSet stores, so records
copy straight in with no shuffling.

We parse the archive as a stream (gzip -> tar -> records) and never
extract it to disk. The download is pinned to the published SHA-256.
*/

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	cifarURL     = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"
	cifarSHA256  = "c4a38c50a1bc5f3a1c5537f2155ab9d68f9f25eb1ed8d9ddda3db29a59bca1dd"
	cifarArchive = "cifar-10-binary.tar.gz"

	cifarImageBytes = 3 * 32 * 32
	cifarRecordSize = 1 + cifarImageBytes
)

// LoadCIFAR10 returns the CIFAR-10 train and test splits, downloading
// the archive into dir/cifar10 when it is not already cached.
func LoadCIFAR10(dir string) (train, test *ImageSet, err error) {
	client := newDownloadClient()
	path := filepath.Join(dir, "cifar10", cifarArchive)
	if err := fetchFile(client, cifarURL, path, cifarSHA256); err != nil {
		return nil, nil, err
	}

	batches, classes, err := readCIFARArchive(path)
	if err != nil {
		return nil, nil, err
	}

	train = NewImageSet("cifar10-train", []int{3, 32, 32}, classes)
	for i := 1; i <= 5; i++ {
		name := fmt.Sprintf("data_batch_%d.bin", i)
		data, ok := batches[name]
		if !ok {
			return nil, nil, fmt.Errorf("cifar10: archive is missing %s", name)
		}
		if err := parseCIFARRecords(train, data, name); err != nil {
			return nil, nil, err
		}
	}

	test = NewImageSet("cifar10-test", []int{3, 32, 32}, classes)
	data, ok := batches["test_batch.bin"]
	if !ok {
		return nil, nil, fmt.Errorf("cifar10: archive is missing test_batch.bin")
	}
	if err := parseCIFARRecords(test, data, "test_batch.bin"); err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

// readCIFARArchive streams the tar.gz, collecting the .bin batch files
// and the class name list from batches.meta.txt.
func readCIFARArchive(path string) (batches map[string][]byte, classes []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("gunzip %s: %w", path, err)
	}
	defer gz.Close()

	batches = make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", path, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Base(hdr.Name)
		switch {
		case strings.HasSuffix(name, ".bin"):
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("read %s from %s: %w", name, path, err)
			}
			batches[name] = data
		case name == "batches.meta.txt":
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("read %s from %s: %w", name, path, err)
			}
			classes = parseClassList(data)
		}
	}
	if len(classes) == 0 {
		return nil, nil, fmt.Errorf("cifar10: archive %s has no batches.meta.txt", path)
	}
	return batches, classes, nil
}

// parseClassList reads one class name per line, skipping blanks. The
// meta file in the official archive ends with a blank line.
func parseClassList(data []byte) []string {
	var classes []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes
}

// parseCIFARRecords appends every record in one batch file to the set.
func parseCIFARRecords(set *ImageSet, data []byte, name string) error {
	if len(data)%cifarRecordSize != 0 {
		return fmt.Errorf("cifar10: %s is truncated: %d bytes is not a multiple of %d", name, len(data), cifarRecordSize)
	}
	for off := 0; off < len(data); off += cifarRecordSize {
		label := int(data[off])
		if label >= len(set.Classes) {
			return fmt.Errorf("cifar10: %s record %d has label %d, want 0-%d",
				name, off/cifarRecordSize, label, len(set.Classes)-1)
		}
		set.Add(data[off+1:off+cifarRecordSize], label)
	}
	return nil
}
