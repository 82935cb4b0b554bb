package main

/*
WHAT'S GOING ON HERE?

Manifest datasets: a directory of PNG files plus a tab-separated
manifest mapping each file to a label index. This is the escape hatch
for training on your own images, and it is also what the ingest
command produces, so the binary formats above (IDX, CIFAR batches) can
be exploded into something you can open in an image viewer:

  out/
    classes.txt          one class name per line, index order
    train/
      manifest.tsv       "# shape <c> <h> <w>" header, then
                         "<relative path>\t<label index>" lines
      images/000000.png
      ...
    test/
      ...

The shape header lets the loader allocate without decoding anything
first. Hand-written manifests may omit it; the first image then fixes
the shape, with grayscale PNGs mapping to one channel.
*/

import (
	"bufio"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// IngestImageSet writes every sample of set into dir as a PNG file and
// records the labels in dir/manifest.tsv.
func IngestImageSet(set *ImageSet, dir string) error {
	imgDir := filepath.Join(dir, "images")
	if err := EnsureDir(imgDir); err != nil {
		return err
	}

	mf, err := os.Create(filepath.Join(dir, "manifest.tsv"))
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	w := bufio.NewWriter(mf)

	c, h, wid := set.Shape[0], set.Shape[1], set.Shape[2]
	fmt.Fprintf(w, "# shape\t%d\t%d\t%d\n", c, h, wid)

	for i := 0; i < set.Len(); i++ {
		rel := filepath.Join("images", fmt.Sprintf("%06d.png", i))
		if err := writeSamplePNG(set, i, filepath.Join(dir, rel)); err != nil {
			mf.Close()
			return err
		}
		fmt.Fprintf(w, "%s\t%d\n", rel, set.Label(i))
	}

	if err := w.Flush(); err != nil {
		mf.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	return mf.Close()
}

// writeSamplePNG encodes one sample. Grayscale samples are written as
// true grayscale PNGs, which keeps MNIST dumps four times smaller.
func writeSamplePNG(set *ImageSet, i int, path string) error {
	px := set.Sample(i)
	var img image.Image
	if set.Shape[0] == 1 {
		g := image.NewGray(image.Rect(0, 0, set.Shape[2], set.Shape[1]))
		copy(g.Pix, px)
		img = g
	} else {
		img = planesToImage(px, set.Shape)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// WriteClassList writes one class name per line.
func WriteClassList(path string, classes []string) error {
	data := strings.Join(classes, "\n") + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// LoadManifestDataset loads a directory produced by ingest (or laid
// out by hand): classes.txt at the root plus train/ and test/ splits.
func LoadManifestDataset(dir string) (train, test *ImageSet, err error) {
	classData, err := os.ReadFile(filepath.Join(dir, "classes.txt"))
	if err != nil {
		return nil, nil, fmt.Errorf("read class list: %w", err)
	}
	classes := parseClassList(classData)
	if len(classes) == 0 {
		return nil, nil, fmt.Errorf("manifest: %s/classes.txt lists no classes", dir)
	}

	train, err = LoadManifestSet(filepath.Join(dir, "train"), classes)
	if err != nil {
		return nil, nil, err
	}
	test, err = LoadManifestSet(filepath.Join(dir, "test"), classes)
	if err != nil {
		return nil, nil, err
	}
	return train, test, nil
}

// manifestEntry is one parsed line of a manifest.tsv.
type manifestEntry struct {
	path  string
	label int
}

// LoadManifestSet loads one split directory: manifest.tsv plus the
// image files it references.
func LoadManifestSet(dir string, classes []string) (*ImageSet, error) {
	path := filepath.Join(dir, "manifest.tsv")
	entries, shape, err := readManifest(path)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("manifest: %s lists no samples", path)
	}

	var set *ImageSet
	buf := []uint8(nil)
	for i, e := range entries {
		if e.label < 0 || e.label >= len(classes) {
			return nil, fmt.Errorf("manifest: %s line for %s: label %d out of range [0, %d)",
				path, e.path, e.label, len(classes))
		}
		img, err := readPNG(filepath.Join(dir, e.path))
		if err != nil {
			return nil, err
		}

		if set == nil {
			if shape == nil {
				shape = inferShape(img)
			}
			set = NewImageSet(dir, shape, classes)
			buf = make([]uint8, set.SampleSize())
		}
		b := img.Bounds()
		if b.Dx() != shape[2] || b.Dy() != shape[1] {
			return nil, fmt.Errorf("manifest: %s is %dx%d, want %dx%d (sample %d)",
				e.path, b.Dx(), b.Dy(), shape[2], shape[1], i)
		}
		imageToPlanes(img, shape, buf)
		set.Add(buf, e.label)
	}
	return set, nil
}

func readManifest(path string) (entries []manifestEntry, shape []int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			fields := strings.Fields(strings.TrimPrefix(line, "#"))
			if len(fields) == 4 && fields[0] == "shape" {
				c, err1 := strconv.Atoi(fields[1])
				h, err2 := strconv.Atoi(fields[2])
				w, err3 := strconv.Atoi(fields[3])
				if err1 != nil || err2 != nil || err3 != nil || c < 1 || h < 1 || w < 1 {
					return nil, nil, fmt.Errorf("%s:%d: bad shape header %q", path, lineNo, line)
				}
				shape = []int{c, h, w}
			}
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) != 2 {
			return nil, nil, fmt.Errorf("%s:%d: want <path>\\t<label>, got %q", path, lineNo, line)
		}
		label, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, nil, fmt.Errorf("%s:%d: bad label %q: %w", path, lineNo, parts[1], err)
		}
		entries = append(entries, manifestEntry{path: parts[0], label: label})
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return entries, shape, nil
}

func readPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// inferShape derives a sample shape from a decoded image when the
// manifest has no shape header.
func inferShape(img image.Image) []int {
	b := img.Bounds()
	c := 3
	if _, ok := img.(*image.Gray); ok {
		c = 1
	}
	return []int{c, b.Dy(), b.Dx()}
}
