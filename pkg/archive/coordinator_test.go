package archive

import (
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorDeduplicatesConcurrentExtractions(t *testing.T) {
	const callers = 8

	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	c := &Coordinator{
		extract: func(_, outDir string) (*ExtractionResult, error) {
			calls.Add(1)
			close(started)
			<-release
			return &ExtractionResult{OutputDir: outDir}, nil
		},
	}

	results := make([]*ExtractionResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = c.ExtractWithLock("archive-1", "a.cbz", "out-0")
	}()
	<-started

	// The first extraction is now in flight; every further caller for the
	// same id must attach to it instead of starting another.
	var entered atomic.Int32
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entered.Add(1)
			results[i], errs[i] = c.ExtractWithLock("archive-1", "a.cbz", "out-dup")
		}(i)
	}
	for entered.Load() < callers-1 {
		runtime.Gosched()
	}
	// Give the callers a moment to block inside the in-flight group before
	// the extraction is allowed to finish.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "one underlying extraction for K concurrent callers")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i], "all callers observe the single result")
	}
}

func TestCoordinatorDistinctIDsRunIndependently(t *testing.T) {
	var calls atomic.Int32
	c := &Coordinator{
		extract: func(_, outDir string) (*ExtractionResult, error) {
			calls.Add(1)
			return &ExtractionResult{OutputDir: outDir}, nil
		},
	}

	_, err := c.ExtractWithLock("archive-1", "a.cbz", "out-a")
	require.NoError(t, err)
	_, err = c.ExtractWithLock("archive-2", "b.cbz", "out-b")
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
}

func TestCoordinatorReleasesSlotAfterFailure(t *testing.T) {
	var calls atomic.Int32
	fail := true
	c := &Coordinator{
		extract: func(_, outDir string) (*ExtractionResult, error) {
			calls.Add(1)
			if fail {
				return nil, errors.New("disk full")
			}
			return &ExtractionResult{OutputDir: outDir}, nil
		},
	}

	_, err := c.ExtractWithLock("archive-1", "a.cbz", "out")
	require.Error(t, err)

	// A failed extraction must not leave a stale in-flight registration.
	fail = false
	result, err := c.ExtractWithLock("archive-1", "a.cbz", "out")
	require.NoError(t, err)
	assert.Equal(t, "out", result.OutputDir)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCoordinatorExtractsRealArchive(t *testing.T) {
	dir := t.TempDir()
	path := writeComicZip(t, dir, "real.cbz")
	outDir := filepath.Join(dir, "out")

	c := NewCoordinator(NewReader(nil))
	result, err := c.ExtractWithLock("real", path, outDir)
	require.NoError(t, err)
	assert.Equal(t, outDir, result.OutputDir)
	assert.Len(t, result.ExtractedFiles, 3)
}
