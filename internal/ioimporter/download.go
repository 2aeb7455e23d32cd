package ioimporter

import (
	"archive/zip"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cheggaaa/pb/v3"

	"github.com/fieldnote/dex/pkg/errcode"
)

// archiveTransportTimeout bounds a single download attempt (spec §5: "5 min
// transport timeout per chunk").
const archiveTransportTimeout = 5 * 60

// Download fetches url to destPath, streaming with a progress bar (spec
// §4.6 stage 2). If a file already exists at destPath and passes ZIP
// integrity, it is reused without re-downloading.
func Download(ctx context.Context, client *http.Client, url, destPath string) error {
	if archiveIntegrityOK(destPath) {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errcode.New(errcode.ImportDownloadError, "cannot create download directory", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errcode.New(errcode.ImportDownloadError, "cannot build download request", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errcode.New(errcode.ImportDownloadError, "download request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errcode.New(errcode.ImportDownloadError, "download returned non-200 status", nil)
	}

	tmp := destPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return errcode.New(errcode.ImportDownloadError, "cannot create destination file", err)
	}

	bar := pb.Full.Start64(resp.ContentLength)
	bar.Set(pb.Bytes, true)
	reader := bar.NewProxyReader(resp.Body)

	_, copyErr := io.Copy(f, reader)
	bar.Finish()
	closeErr := f.Close()

	if copyErr != nil {
		os.Remove(tmp)
		return errcode.New(errcode.ImportDownloadError, "download stream failed", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return errcode.New(errcode.ImportDownloadError, "cannot finalize downloaded file", closeErr)
	}

	if err := os.Rename(tmp, destPath); err != nil {
		return errcode.New(errcode.ImportDownloadError, "cannot move downloaded file into place", err)
	}
	return nil
}

// archiveIntegrityOK reports whether path exists and is a structurally
// valid ZIP archive (spec §4.6 stage 2/3: reuse-if-valid).
func archiveIntegrityOK(path string) bool {
	r, err := zip.OpenReader(path)
	if err != nil {
		return false
	}
	defer r.Close()
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return false
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return false
		}
	}
	return true
}
