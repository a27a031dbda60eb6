package receipt

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
)

// ErrNoReceipt is returned by a Source that has nothing to offer.
var ErrNoReceipt = errors.New("no receipt available")

// Source supplies the freshest raw receipt.
type Source interface {
	CurrentReceipt() ([]byte, error)
}

// FileSource reads the receipt from a file.
type FileSource struct {
	Path string
}

// CurrentReceipt implements Source.
func (s FileSource) CurrentReceipt() ([]byte, error) {
	if s.Path == "" {
		return nil, ErrNoReceipt
	}
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoReceipt
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrNoReceipt
	}
	return data, nil
}

// FirstSource asks each source in turn and returns the first receipt found.
type FirstSource []Source

// CurrentReceipt implements Source.
func (s FirstSource) CurrentReceipt() ([]byte, error) {
	for _, src := range s {
		data, err := src.CurrentReceipt()
		if errors.Is(err, ErrNoReceipt) {
			continue
		}
		return data, err
	}
	return nil, ErrNoReceipt
}
