// Package checkpoint persists per-archive ingest progress. A checkpoint is
// written only after the corresponding store transaction has committed, so
// resuming strictly after its position can never skip uncommitted records.
package checkpoint

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"lukechampine.com/blake3"
)

// Checkpoint is the durable cursor for one source archive.
type Checkpoint struct {
	Fingerprint string    `json:"fingerprint"`
	Position    int64     `json:"position"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PathFor derives the checkpoint file path for an archive inside stateDir.
// The name is content-independent so the same archive path always maps to
// the same checkpoint file.
func PathFor(stateDir, archive string) string {
	abs, err := filepath.Abs(archive)
	if err != nil {
		abs = archive
	}
	sum := blake3.Sum256([]byte(abs))
	return filepath.Join(stateDir, hex.EncodeToString(sum[:8])+".json")
}

// Load reads a checkpoint. A missing file yields (nil, nil); a torn or
// unparsable file is an error the caller treats as "no checkpoint".
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	if cp.Fingerprint == "" {
		return nil, fmt.Errorf("checkpoint %s has no fingerprint", path)
	}
	return &cp, nil
}

// Save atomically persists a checkpoint via write-to-temp-then-rename, so a
// crash mid-write can never tear the file.
func Save(path string, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// fingerprintHead bounds how much file content feeds the fingerprint.
const fingerprintHead = 4 << 20

// Fingerprint computes a content fingerprint of the archive. A changed
// archive produces a different fingerprint, which invalidates any existing
// checkpoint recorded against the old content.
func Fingerprint(archive string) (string, error) {
	info, err := os.Stat(archive)
	if err != nil {
		return "", fmt.Errorf("stat archive: %w", err)
	}

	hasher := blake3.New(32, nil)
	if info.IsDir() {
		if err := fingerprintDir(archive, hasher); err != nil {
			return "", err
		}
	} else {
		if err := fingerprintFile(archive, info, hasher); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func fingerprintFile(path string, info fs.FileInfo, hasher io.Writer) error {
	writeInt(hasher, info.Size())
	writeInt(hasher, info.ModTime().UnixNano())

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(hasher, io.LimitReader(file, fingerprintHead)); err != nil {
		return fmt.Errorf("read archive head: %w", err)
	}
	return nil
}

func fingerprintDir(root string, hasher io.Writer) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		io.WriteString(hasher, rel)
		writeInt(hasher, info.Size())
		writeInt(hasher, info.ModTime().UnixNano())
		return nil
	})
}

func writeInt(w io.Writer, v int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	w.Write(buf[:])
}
