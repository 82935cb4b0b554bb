package main

/*
WHAT'S GOING ON HERE?

MNIST: 70,000 grayscale images of handwritten digits, 28x28 pixels,
split 60,000 train / 10,000 test. It ships as four gzipped files in
the IDX format, a tiny big-endian binary layout from the late 90s:

  images (idx3):                     labels (idx1):
    offset 0:  uint32 magic 0x803      offset 0: uint32 magic 0x801
    offset 4:  uint32 image count      offset 4: uint32 label count
    offset 8:  uint32 rows             offset 8: one byte per label
    offset 12: uint32 cols
    offset 16: rows*cols bytes per image, row-major

Every file is verified against a pinned SHA-256 digest after download,
so a truncated transfer or a tampered mirror fails loudly instead of
training on garbage.

The original hosting site now sits behind authentication, so we fetch
from the CVDF mirror, which serves byte-identical files.
*/

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-resty/resty/v2"
)

const mnistBaseURL = "https://storage.googleapis.com/cvdf-datasets/mnist/"

const (
	mnistImageMagic = 0x00000803
	mnistLabelMagic = 0x00000801
)

// mnistFile names one archive file and pins its digest.
type mnistFile struct {
	name   string
	sha256 string
}

var (
	mnistTrainImages = mnistFile{"train-images-idx3-ubyte.gz", "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609"}
	mnistTrainLabels = mnistFile{"train-labels-idx1-ubyte.gz", "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c"}
	mnistTestImages  = mnistFile{"t10k-images-idx3-ubyte.gz", "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6"}
	mnistTestLabels  = mnistFile{"t10k-labels-idx1-ubyte.gz", "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6"}
)

var mnistClasses = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

// LoadMNIST returns the MNIST train and test splits, downloading the
// archives into dir/mnist when they are not already cached.
func LoadMNIST(dir string) (train, test *ImageSet, err error) {
	client := newDownloadClient()
	cache := filepath.Join(dir, "mnist")

	train, err = loadMNISTSplit(client, cache, "mnist-train", mnistTrainImages, mnistTrainLabels)
	if err != nil {
		return nil, nil, err
	}
	test, err = loadMNISTSplit(client, cache, "mnist-test", mnistTestImages, mnistTestLabels)
	if err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

func loadMNISTSplit(client *resty.Client, cache, name string, images, labels mnistFile) (*ImageSet, error) {
	imgPath := filepath.Join(cache, images.name)
	if err := fetchFile(client, mnistBaseURL+images.name, imgPath, images.sha256); err != nil {
		return nil, err
	}
	lblPath := filepath.Join(cache, labels.name)
	if err := fetchFile(client, mnistBaseURL+labels.name, lblPath, labels.sha256); err != nil {
		return nil, err
	}

	pixels, count, rows, cols, err := readIDXImages(imgPath)
	if err != nil {
		return nil, err
	}
	lbls, err := readIDXLabels(lblPath)
	if err != nil {
		return nil, err
	}
	if len(lbls) != count {
		return nil, fmt.Errorf("mnist %s: %d images but %d labels", name, count, len(lbls))
	}

	set := NewImageSet(name, []int{1, rows, cols}, mnistClasses)
	set.Pixels = pixels
	set.Labels = make([]int, count)
	for i, b := range lbls {
		if int(b) >= len(mnistClasses) {
			return nil, fmt.Errorf("mnist %s: sample %d has label %d, want 0-9", name, i, b)
		}
		set.Labels[i] = int(b)
	}
	return set, nil
}

// readIDXImages parses a gzipped idx3 image file into a flat pixel
// slice. Truncated or malformed files return errors; only programmer
// mistakes panic.
func readIDXImages(path string) (pixels []uint8, count, rows, cols int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("gunzip %s: %w", path, err)
	}
	defer gz.Close()

	var hdr [16]byte
	if _, err := io.ReadFull(gz, hdr[:]); err != nil {
		return nil, 0, 0, 0, fmt.Errorf("read %s header: %w", path, err)
	}
	if magic := binary.BigEndian.Uint32(hdr[0:4]); magic != mnistImageMagic {
		return nil, 0, 0, 0, fmt.Errorf("%s: bad image magic 0x%08x, want 0x%08x", path, magic, mnistImageMagic)
	}
	count = int(binary.BigEndian.Uint32(hdr[4:8]))
	rows = int(binary.BigEndian.Uint32(hdr[8:12]))
	cols = int(binary.BigEndian.Uint32(hdr[12:16]))
	if count <= 0 || rows <= 0 || cols <= 0 || rows > 4096 || cols > 4096 || count > 10_000_000 {
		return nil, 0, 0, 0, fmt.Errorf("%s: implausible header: %d images of %dx%d", path, count, rows, cols)
	}

	pixels = make([]uint8, count*rows*cols)
	if _, err := io.ReadFull(gz, pixels); err != nil {
		return nil, 0, 0, 0, fmt.Errorf("%s: truncated image data: %w", path, err)
	}
	return pixels, count, rows, cols, nil
}

// readIDXLabels parses a gzipped idx1 label file.
func readIDXLabels(path string) ([]uint8, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("gunzip %s: %w", path, err)
	}
	defer gz.Close()

	var hdr [8]byte
	if _, err := io.ReadFull(gz, hdr[:]); err != nil {
		return nil, fmt.Errorf("read %s header: %w", path, err)
	}
	if magic := binary.BigEndian.Uint32(hdr[0:4]); magic != mnistLabelMagic {
		return nil, fmt.Errorf("%s: bad label magic 0x%08x, want 0x%08x", path, magic, mnistLabelMagic)
	}
	count := int(binary.BigEndian.Uint32(hdr[4:8]))
	if count <= 0 || count > 10_000_000 {
		return nil, fmt.Errorf("%s: implausible label count %d", path, count)
	}

	labels := make([]uint8, count)
	if _, err := io.ReadFull(gz, labels); err != nil {
		return nil, fmt.Errorf("%s: truncated label data: %w", path, err)
	}
	return labels, nil
}
