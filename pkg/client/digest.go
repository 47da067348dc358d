package client

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/http"
	"strings"
)

var ErrUnsupportedDigest = errors.New("unsupported digest algorithm")

// Digest is a content hash of the whole representation, either announced by the server or
// supplied by the user.
type Digest struct {
	Algorithm string
	Sum       []byte
	// Source names where the digest came from, for log output.
	Source string
}

func (d *Digest) String() string {
	return fmt.Sprintf("%s:%s", d.Algorithm, hex.EncodeToString(d.Sum))
}

// NewHash returns an empty hash for the digest's algorithm.
func (d *Digest) NewHash() (hash.Hash, error) {
	return newHash(d.Algorithm)
}

func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "md5":
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDigest, algorithm)
	}
}

// digestPreference orders algorithms from strongest to weakest.
var digestPreference = []string{"sha512", "sha256", "sha1", "md5"}

// normalizeAlgorithm maps the http field names (sha-256, SHA-512, ...) to ours.
func normalizeAlgorithm(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, "-", "")
}

// ParseChecksum parses a user supplied "<algorithm>:<hex>" checksum.
func ParseChecksum(s string) (*Digest, error) {
	algorithm, sum, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("invalid checksum %q, expected <algorithm>:<hex>", s)
	}
	algorithm = normalizeAlgorithm(algorithm)
	h, err := newHash(algorithm)
	if err != nil {
		return nil, err
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(sum))
	if err != nil {
		return nil, fmt.Errorf("invalid checksum %q: %w", s, err)
	}
	if len(decoded) != h.Size() {
		return nil, fmt.Errorf("invalid checksum %q: %s digest must be %d bytes", s, algorithm, h.Size())
	}
	return &Digest{Algorithm: algorithm, Sum: decoded, Source: "checksum flag"}, nil
}

// digestFromHeaders extracts the strongest whole-representation digest a response
// announces. Content-MD5 describes the payload, so it is only trusted on full responses.
func digestFromHeaders(h http.Header, partial bool) *Digest {
	if d := parseDigestField(h.Values("Repr-Digest"), true); d != nil {
		d.Source = "Repr-Digest"
		return d
	}
	if d := parseDigestField(h.Values("Digest"), false); d != nil {
		d.Source = "Digest"
		return d
	}
	if partial {
		return nil
	}
	if v := strings.TrimSpace(h.Get("Content-MD5")); v != "" {
		if sum, err := base64.StdEncoding.DecodeString(v); err == nil && len(sum) == md5.Size {
			return &Digest{Algorithm: "md5", Sum: sum, Source: "Content-MD5"}
		}
	}
	return nil
}

// parseDigestField reads "alg=value" members. Structured fields (RFC 9530) wrap the base64
// value in colons, the older RFC 3230 Digest field does not.
func parseDigestField(values []string, structured bool) *Digest {
	found := map[string][]byte{}
	for _, value := range values {
		for _, member := range strings.Split(value, ",") {
			name, encoded, ok := strings.Cut(strings.TrimSpace(member), "=")
			if !ok {
				continue
			}
			encoded = strings.TrimSpace(encoded)
			if structured {
				if len(encoded) < 2 || encoded[0] != ':' || encoded[len(encoded)-1] != ':' {
					continue
				}
				encoded = encoded[1 : len(encoded)-1]
			}
			sum, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				continue
			}
			algorithm := normalizeAlgorithm(name)
			h, err := newHash(algorithm)
			if err != nil || h.Size() != len(sum) {
				continue
			}
			found[algorithm] = sum
		}
	}
	for _, algorithm := range digestPreference {
		if sum, ok := found[algorithm]; ok {
			return &Digest{Algorithm: algorithm, Sum: sum}
		}
	}
	return nil
}
