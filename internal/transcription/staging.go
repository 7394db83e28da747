package transcription

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const maxExtLen = 16

// StagedFile is an upload written to the staging directory. It belongs to
// exactly one request and is removed before that request completes.
type StagedFile struct {
	Path string
	Size int64
}

// stage copies body verbatim to a fresh file in dir. The name combines the
// process id, a random token and the original extension, and is created with
// O_EXCL so two requests can never share a path.
//
// On a failed copy the partially written file is still returned so the caller
// can remove it.
func stage(dir, filename string, body io.Reader) (*StagedFile, error) {
	name := fmt.Sprintf("temp_%d_%s%s", os.Getpid(), uuid.NewString(), stagingExt(filename))
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}
	staged := &StagedFile{Path: path}

	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return staged, fmt.Errorf("write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		return staged, fmt.Errorf("close staged file: %w", err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		return staged, fmt.Errorf("stat staged file: %w", err)
	}
	staged.Size = fi.Size()

	return staged, nil
}

// Remove deletes the staged file. A file that is already gone is not an error.
func (s *StagedFile) Remove() error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// stagingExt returns the original file's extension, or ".tmp" when it has
// none or it contains anything but letters and digits.
func stagingExt(filename string) string {
	ext := filepath.Ext(filepath.Base(filename))
	if len(ext) < 2 || len(ext) > maxExtLen {
		return ".tmp"
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return ".tmp"
		}
	}
	return strings.ToLower(ext)
}
