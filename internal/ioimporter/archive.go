package ioimporter

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/fieldnote/dex/pkg/errcode"
)

// requiredArchiveFiles are the files stage 3 demands be present (spec
// §4.6 stage 3).
var requiredArchiveFiles = []string{"metadata.yaml", "NameUsage.tsv"}

// optionalArchiveFiles are parsed if present (spec §4.6 stage 4).
var optionalArchiveFiles = []string{"NameRelation.tsv", "VernacularName.tsv"}

// ValidateArchive ZIP-integrity-checks archivePath, extracts it into
// extractDir (reusing the directory if it's already populated), and
// confirms the required files are present.
func ValidateArchive(archivePath, extractDir string) error {
	if !archiveIntegrityOK(archivePath) {
		return errcode.New(errcode.ImportArchiveInvalidError, "archive failed ZIP integrity check", nil)
	}

	if !extractionComplete(extractDir) {
		if err := extractArchive(archivePath, extractDir); err != nil {
			return errcode.New(errcode.ImportArchiveInvalidError, "archive extraction failed", err)
		}
	}

	for _, name := range requiredArchiveFiles {
		if _, err := os.Stat(filepath.Join(extractDir, name)); err != nil {
			return errcode.New(errcode.ImportArchiveInvalidError,
				"required archive file missing: "+name, err)
		}
	}
	return nil
}

func extractionComplete(extractDir string) bool {
	for _, name := range requiredArchiveFiles {
		if _, err := os.Stat(filepath.Join(extractDir, name)); err != nil {
			return false
		}
	}
	return true
}

func extractArchive(archivePath, extractDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return err
	}

	for _, f := range r.File {
		destPath := filepath.Join(extractDir, filepath.Base(f.Name))
		if f.FileInfo().IsDir() {
			continue
		}
		if err := extractOne(f, destPath); err != nil {
			return err
		}
	}
	return nil
}

func extractOne(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// archiveMetadata is the handful of ColDP metadata.yaml fields the
// importer cares about; the archive format allows many more, which are
// ignored (spec §6: "a ZIP containing a metadata.yaml plus TSV files").
type archiveMetadata struct {
	Version string `yaml:"version"`
	Title   string `yaml:"title"`
}

// ReadMetadata parses extractDir's metadata.yaml, already confirmed
// present by ValidateArchive, into the dataset version recorded on the
// Import Job (spec's Import Job carries a `version` field).
func ReadMetadata(extractDir string) (archiveMetadata, error) {
	var meta archiveMetadata
	raw, err := os.ReadFile(filepath.Join(extractDir, "metadata.yaml"))
	if err != nil {
		return meta, err
	}
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return meta, errcode.New(errcode.ImportArchiveInvalidError, "malformed metadata.yaml", err)
	}
	return meta, nil
}

// presentOptionalFiles returns which of optionalArchiveFiles exist in
// extractDir (spec §4.6 stage 4: "Parse NameRelation.tsv and
// VernacularName.tsv if present").
func presentOptionalFiles(extractDir string) []string {
	var present []string
	for _, name := range optionalArchiveFiles {
		if _, err := os.Stat(filepath.Join(extractDir, name)); err == nil {
			present = append(present, name)
		}
	}
	return present
}
