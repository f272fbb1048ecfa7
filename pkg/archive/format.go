package archive

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
)

type Format string

const (
	FormatZIP     Format = "zip"
	FormatRAR     Format = "rar"
	Format7Z      Format = "7z"
	FormatUnknown Format = "unknown"
)

// Magic signatures, checked in priority order. RAR5 archives extend the
// RAR4 prefix, so the 4-byte prefix covers both generations.
var (
	magicRAR = []byte{0x52, 0x61, 0x72, 0x21}
	magic7Z  = []byte{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}
	magicZIP = []byte{0x50, 0x4B}
)

// DetectFormat identifies the true container format from the first 8 bytes
// of the file. The result is authoritative over the file extension, so a
// renamed or mis-converted archive is still handled correctly.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, errors.WithStack(err)
	}
	defer f.Close()

	header := make([]byte, 8)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, errors.WithStack(err)
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, magicRAR):
		return FormatRAR, nil
	case bytes.HasPrefix(header, magic7Z):
		return Format7Z, nil
	case bytes.HasPrefix(header, magicZIP):
		return FormatZIP, nil
	}

	return FormatUnknown, nil
}
