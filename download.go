package main

// Dataset archives and remote images are fetched with resty. Archive
// downloads land in a local cache directory and are verified against
// pinned SHA-256 digests, so a truncated or tampered file never makes
// it into training.

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
)

// newDownloadClient builds the shared HTTP client for dataset and
// image fetches. Dataset mirrors occasionally drop connections, so
// retries with backoff are on by default.
func newDownloadClient() *resty.Client {
	return resty.New().
		SetTimeout(10 * time.Minute).
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetRetryMaxWaitTime(30 * time.Second)
}

// fetchFile downloads url into dest, verifying the SHA-256 digest when
// one is given. An existing file with a matching digest is reused
// without touching the network. Downloads go through a .part file and
// are renamed only after verification, so dest is never truncated.
func fetchFile(client *resty.Client, url, dest, wantSHA256 string) error {
	if _, err := os.Stat(dest); err == nil {
		if wantSHA256 == "" {
			return nil
		}
		got, err := sha256File(dest)
		if err != nil {
			return err
		}
		if got == wantSHA256 {
			return nil
		}
		// Cached file is corrupt. Re-download.
		zlog.Warnw("cached file failed checksum, re-downloading",
			"path", dest, "got", got, "want", wantSHA256)
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("remove corrupt %s: %w", dest, err)
		}
	}

	if err := EnsureDir(filepath.Dir(dest)); err != nil {
		return err
	}

	part := dest + ".part"
	zlog.Infow("downloading", "url", url, "dest", dest)
	resp, err := client.R().SetOutput(part).Get(url)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	if resp.StatusCode() != http.StatusOK {
		os.Remove(part)
		return fmt.Errorf("download %s: unexpected status %s", url, resp.Status())
	}

	if wantSHA256 != "" {
		got, err := sha256File(part)
		if err != nil {
			return err
		}
		if got != wantSHA256 {
			os.Remove(part)
			return fmt.Errorf("download %s: checksum mismatch: got %s, want %s", url, got, wantSHA256)
		}
	}

	if err := os.Rename(part, dest); err != nil {
		return fmt.Errorf("finalize %s: %w", dest, err)
	}
	return nil
}

// fetchBytes downloads a URL into memory. Used for predict-by-URL,
// where the payload is a single image.
func fetchBytes(client *resty.Client, url string) ([]byte, error) {
	resp, err := client.R().Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status())
	}
	return resp.Body(), nil
}

// sha256File computes the hex SHA-256 digest of a file.
func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
