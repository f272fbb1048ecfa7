package comicinfo

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	bracketDecorationRE = regexp.MustCompile(`\[[^\]]*]|\([^)]*\)|\{[^}]*}`)
	trailingVolumeRE    = regexp.MustCompile(`(?i)[\s._-]+(v|vol\.?|volume)\s*\d+$`)
	trailingNumberRE    = regexp.MustCompile(`(?i)[\s._-]+#?\d+(\.\d+)?$`)
	whitespaceRE        = regexp.MustCompile(`\s+`)
)

// SeriesFromFolder derives a series name from the archive's parent folder,
// stripping bracketed/parenthesized decoration and trailing volume markers.
// Returns "" when nothing usable remains (e.g. the file sits in the library
// root).
func SeriesFromFolder(dir string) string {
	name := filepath.Base(dir)
	if name == "." || name == string(filepath.Separator) || name == "/" {
		return ""
	}
	return cleanSeriesName(name)
}

// SeriesFromFilename derives a series name from the filename itself: the
// stem with decoration and any trailing issue/volume number stripped. The
// raw stem is the fallback when stripping consumes everything.
func SeriesFromFilename(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	// Decoration goes first so a trailing issue number isn't hidden behind
	// release tags, e.g. "Saga 007 (digital)".
	base := strings.TrimSpace(bracketDecorationRE.ReplaceAllString(stem, ""))
	name := cleanSeriesName(trailingNumberRE.ReplaceAllString(base, ""))
	if name == "" {
		name = strings.TrimSpace(whitespaceRE.ReplaceAllString(stem, " "))
	}
	return name
}

func cleanSeriesName(name string) string {
	name = bracketDecorationRE.ReplaceAllString(name, "")
	name = trailingVolumeRE.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, "_", " ")
	name = whitespaceRE.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// Patterns for pulling an issue number out of a filename stem: #7, v7, or a
// bare trailing 7 / 7.5.
var numberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)#(\d+(?:\.\d+)?)\s*$`),
	regexp.MustCompile(`(?i)\bv(\d+(?:\.\d+)?)\s*$`),
	regexp.MustCompile(`(?i)\s+(\d+(?:\.\d+)?)\s*$`),
}

// NumberFromFilename extracts a series/issue number from a filename when the
// sidecar didn't carry one.
func NumberFromFilename(filename string) *float64 {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	stem = bracketDecorationRE.ReplaceAllString(stem, "")
	stem = strings.TrimSpace(stem)

	for _, re := range numberPatterns {
		if matches := re.FindStringSubmatch(stem); len(matches) >= 2 {
			if num, err := strconv.ParseFloat(matches[1], 64); err == nil {
				return &num
			}
		}
	}
	return nil
}
