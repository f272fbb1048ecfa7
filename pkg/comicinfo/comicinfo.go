package comicinfo

import (
	"encoding/xml"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Filename is the conventional name of the embedded metadata sidecar.
const Filename = "ComicInfo.xml"

type ComicInfo struct {
	XMLName     xml.Name `xml:"ComicInfo"`
	Title       string   `xml:"Title"`
	Series      string   `xml:"Series"`
	Number      string   `xml:"Number"`
	Volume      string   `xml:"Volume"`
	Year        string   `xml:"Year"`
	Month       string   `xml:"Month"`
	Day         string   `xml:"Day"`
	Writer      string   `xml:"Writer"`
	Penciller   string   `xml:"Penciller"`
	Inker       string   `xml:"Inker"`
	Colorist    string   `xml:"Colorist"`
	Letterer    string   `xml:"Letterer"`
	CoverArtist string   `xml:"CoverArtist"`
	Editor      string   `xml:"Editor"`
	Publisher   string   `xml:"Publisher"`
	Imprint     string   `xml:"Imprint"`
	Genre       string   `xml:"Genre"`
	PageCount   string   `xml:"PageCount"`
	LanguageISO string   `xml:"LanguageISO"`
	Format      string   `xml:"Format"`
	Manga       string   `xml:"Manga"`
	Pages       struct {
		Page []PageInfo `xml:"Page"`
	} `xml:"Pages"`
}

type PageInfo struct {
	Image       string `xml:"Image,attr"`
	Type        string `xml:"Type,attr"`
	DoublePage  string `xml:"DoublePage,attr"`
	ImageWidth  string `xml:"ImageWidth,attr"`
	ImageHeight string `xml:"ImageHeight,attr"`
}

// Parse unmarshals sidecar bytes as extracted from an archive.
func Parse(data []byte) (*ComicInfo, error) {
	info := &ComicInfo{}
	if err := xml.Unmarshal(data, info); err != nil {
		return nil, errors.WithStack(err)
	}
	return info, nil
}

// IsSidecar reports whether an archive entry is the metadata sidecar,
// matching the basename case-insensitively.
func IsSidecar(entryPath string) bool {
	base := filepath.Base(strings.ReplaceAll(entryPath, "\\", "/"))
	return strings.EqualFold(base, Filename)
}

// ParsedNumber returns the issue number as a float when present and numeric.
func (ci *ComicInfo) ParsedNumber() *float64 {
	if ci.Number == "" {
		return nil
	}
	num, err := strconv.ParseFloat(ci.Number, 64)
	if err != nil {
		return nil
	}
	return &num
}

// ParsedPageCount returns the declared page count when present and numeric.
func (ci *ComicInfo) ParsedPageCount() *int {
	if ci.PageCount == "" {
		return nil
	}
	n, err := strconv.Atoi(ci.PageCount)
	if err != nil {
		return nil
	}
	return &n
}
