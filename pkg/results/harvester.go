package results

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/spf13/afero"
	"github.com/srand/fgmachine/pkg/log"
	"github.com/srand/fgmachine/pkg/utils"
)

// Suffix of files that are reported as results.
const Suffix = ".json"

// Payload is one parsed result document.
type Payload map[string]any

type Harvester struct {
	fs utils.Fs

	// Files larger than this are not read. Zero means no limit.
	MaxSize int64
}

func NewHarvester(fs utils.Fs) *Harvester {
	return &Harvester{fs: fs}
}

// Harvest returns the payloads of all result files directly under
// root/experimentID, in directory order. A missing or unreadable
// directory yields nothing. A file that cannot be read or parsed yields
// an error wrapping utils.ErrResultRead and iteration continues.
//
// Files are read lazily while iterating. The sequence can only be
// consumed once, later iterations yield nothing.
func (h *Harvester) Harvest(root, experimentID string) iter.Seq2[Payload, error] {
	dir := filepath.Join(root, experimentID)
	var consumed atomic.Bool

	return func(yield func(Payload, error) bool) {
		if consumed.Swap(true) {
			return
		}

		entries, err := afero.ReadDir(h.fs, dir)
		if err != nil {
			log.Debugf("No results for experiment %s: %v", experimentID, err)
			return
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), Suffix) {
				continue
			}

			path := filepath.Join(dir, entry.Name())

			if h.MaxSize > 0 && entry.Size() > h.MaxSize {
				err := fmt.Errorf("%w: %s: size %s exceeds limit %s", utils.ErrResultRead, path,
					utils.HumanByteSize(entry.Size()), utils.HumanByteSize(h.MaxSize))
				if !yield(nil, err) {
					return
				}
				continue
			}

			payload, err := h.read(path)
			if !yield(payload, err) {
				return
			}
		}
	}
}

func (h *Harvester) read(path string) (Payload, error) {
	data, err := afero.ReadFile(h.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", utils.ErrResultRead, path, err)
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	payload := Payload{}
	if err := decoder.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", utils.ErrResultRead, path, err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("%w: %s: trailing data after document", utils.ErrResultRead, path)
	}

	log.Debug("Read result", path)
	return payload, nil
}
