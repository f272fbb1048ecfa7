package archive

import (
	"golang.org/x/sync/singleflight"
)

// Coordinator de-duplicates concurrent extraction requests per archive id:
// K simultaneous callers for the same id produce exactly one underlying
// extraction and K observers of its single result. Distinct ids extract
// fully in parallel. The in-flight registration is removed unconditionally
// on completion, success or failure.
type Coordinator struct {
	group   singleflight.Group
	extract func(path, outDir string) (*ExtractionResult, error)
}

func NewCoordinator(reader *Reader) *Coordinator {
	return &Coordinator{
		extract: func(path, outDir string) (*ExtractionResult, error) {
			return reader.Extract(path, outDir, nil)
		},
	}
}

// ExtractWithLock runs a single-flight extraction for archiveID. An
// individual extraction, once started, is not itself preemptible.
func (c *Coordinator) ExtractWithLock(archiveID, path, outDir string) (*ExtractionResult, error) {
	v, err, _ := c.group.Do(archiveID, func() (interface{}, error) {
		return c.extract(path, outDir)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ExtractionResult), nil
}
