package scanner

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"
)

// partialHashBytes bounds how much of each archive is read for the content
// hash; combined with the file size this is enough to corroborate changes
// without reading multi-hundred-megabyte archives end to end.
const partialHashBytes = 64 * 1024

// PartialContentHash hashes the first 64 KiB of the file plus its byte size.
func PartialContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", errors.WithStack(err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(f, partialHashBytes)); err != nil {
		return "", errors.WithStack(err)
	}

	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(stat.Size()))
	h.Write(sizeBuf[:])

	return hex.EncodeToString(h.Sum(nil)), nil
}
