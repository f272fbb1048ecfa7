package archive

import (
	"os"

	"github.com/pkg/errors"
)

// Validate checks that an archive is a readable comic container. A missing
// file is an error return; a present-but-unusable archive (corrupt, empty,
// password-protected, no page images) is a ValidationResult with Valid set
// false, so the two cases stay distinguishable for callers.
func (r *Reader) Validate(path string) (*ValidationResult, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.WithStack(err)
	}

	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	result := &ValidationResult{Format: format}

	if format == FormatUnknown {
		result.Error = "not a recognized archive format"
		return result, nil
	}

	info, err := r.List(path)
	if err != nil {
		// Corrupt or password-protected archives fail to list.
		result.Error = err.Error()
		return result, nil
	}

	if info.FileCount == 0 {
		result.Error = "archive is empty"
		return result, nil
	}

	pages := 0
	for _, e := range info.Entries {
		if !e.IsDirectory && isImageEntry(e.Path) {
			pages++
		}
	}
	if pages == 0 {
		result.Error = "archive contains no page images"
		return result, nil
	}

	result.Valid = true
	result.PageCount = pages
	return result, nil
}
