// Package snapshot saves the local render cache of a board so a restarted
// client can draw the board before its first poll returns. A snapshot is
// never authoritative: the poll after loading it reconciles against the
// server like any other.
package snapshot

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/mariamrf/pegasus/internal/domain/board"
	apperrors "github.com/mariamrf/pegasus/internal/errors"
)

// Version is the snapshot format version.
const Version = 1

// Header is written as the first line so tools can identify a file without
// decoding the body.
type Header struct {
	Version int       `json:"version"`
	BoardID string    `json:"board_id"`
	SavedAt time.Time `json:"saved_at"`
}

// Element is a rendered note.
type Element struct {
	ID       string          `json:"id"`
	Content  string          `json:"content"`
	Position *board.Position `json:"position,omitempty"`
	Editable bool            `json:"editable"`
}

// Tombstone is a remembered deletion.
type Tombstone struct {
	ID    string `json:"id"`
	At    string `json:"at,omitempty"`
	Final bool   `json:"final,omitempty"`
}

// State is everything a client restores on warm start.
type State struct {
	Header     Header           `json:"header"`
	Watermark  string           `json:"watermark"`
	Elements   []Element        `json:"elements"`
	Tombstones []Tombstone      `json:"tombstones"`
	Chat       []board.ChatLine `json:"chat"`
	PrevSender string           `json:"prev_sender"`
}

// Write stores state at path, replacing any previous snapshot atomically.
func Write(path string, state State) (err error) {
	defer func() {
		if err != nil {
			err = apperrors.Internal(apperrors.CodeSnapshotFailure, "write snapshot").
				WithResource(path).
				WithCause(err).
				Build()
		}
	}()

	state.Header.Version = Version
	if state.Header.SavedAt.IsZero() {
		state.Header.SavedAt = time.Now().UTC()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := encode(tmp, state); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func encode(f *os.File, state State) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(enc)
	hb, err := json.Marshal(state.Header)
	if err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := json.NewEncoder(bw).Encode(&state); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

// Read loads the snapshot at path. A missing file is (nil, nil).
func Read(path string) (*State, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, snapshotErr(path, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, snapshotErr(path, err)
	}
	defer dec.Close()

	br := bufio.NewReader(dec)

	var header Header
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, snapshotErr(path, err)
	}
	if err := json.Unmarshal(line, &header); err != nil {
		return nil, snapshotErr(path, err)
	}
	if header.Version != Version {
		return nil, snapshotErr(path, fmt.Errorf("unsupported snapshot version %d", header.Version))
	}

	var state State
	if err := json.NewDecoder(br).Decode(&state); err != nil {
		return nil, snapshotErr(path, fmt.Errorf("json decode: %w", err))
	}
	return &state, nil
}

func snapshotErr(path string, err error) error {
	return apperrors.Internal(apperrors.CodeSnapshotFailure, "read snapshot").
		WithResource(path).
		WithCause(err).
		Build()
}
