package download

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/logging"
)

// verify checks the assembled file against the expected size (when known), the number of
// bytes the workers accounted for, and every available digest. Digests are computed in a
// single pass.
func verify(path string, size, written int64, digests []*client.Digest) error {
	logger := logging.GetLogger()

	// the file is pre-allocated, so its length alone says nothing about holes
	if size >= 0 && written != size {
		return &IntegrityError{Path: path, Reason: fmt.Sprintf("incomplete: received %d of %d bytes", written, size)}
	}
	info, err := os.Stat(path)
	if err != nil {
		return &StorageError{Op: "stat", Path: path, Err: err}
	}
	if size >= 0 && info.Size() != size {
		return &IntegrityError{Path: path, Reason: fmt.Sprintf("size mismatch: expected %d bytes, got %d", size, info.Size())}
	}
	if len(digests) == 0 {
		logger.Debug().Str("path", path).Msg("No digest available, verified size only")
		return nil
	}

	hashes := make([]hash.Hash, len(digests))
	writers := make([]io.Writer, len(digests))
	for i, d := range digests {
		h, err := d.NewHash()
		if err != nil {
			return err
		}
		hashes[i] = h
		writers[i] = h
	}
	file, err := os.Open(path)
	if err != nil {
		return &StorageError{Op: "open", Path: path, Err: err}
	}
	defer file.Close()
	if _, err := io.Copy(io.MultiWriter(writers...), file); err != nil {
		return &StorageError{Op: "read", Path: path, Err: err}
	}

	for i, d := range digests {
		sum := hashes[i].Sum(nil)
		if !bytes.Equal(sum, d.Sum) {
			return &IntegrityError{
				Path:   path,
				Reason: fmt.Sprintf("%s mismatch (%s): expected %x, got %s", d.Algorithm, d.Source, d.Sum, hex.EncodeToString(sum)),
			}
		}
		logger.Debug().Str("path", path).Str("digest", d.String()).Str("source", d.Source).Msg("Verified")
	}
	return nil
}
