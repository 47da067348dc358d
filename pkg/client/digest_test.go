package client

import (
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	helloSHA256 = "68e656b251e67e8358bef8483ab0d51c6619f3e7a1a9f0e75838d41ff368f728"
	helloMD5    = "3adbbad1791fbae3ec908894c4963870"
)

func TestParseChecksum(t *testing.T) {
	d, err := ParseChecksum("sha256:" + helloSHA256)
	require.NoError(t, err)
	assert.Equal(t, "sha256", d.Algorithm)
	assert.Equal(t, helloSHA256, hex.EncodeToString(d.Sum))
	assert.Equal(t, "sha256:"+helloSHA256, d.String())

	d, err = ParseChecksum("SHA-256:" + helloSHA256)
	require.NoError(t, err)
	assert.Equal(t, "sha256", d.Algorithm)

	for _, bad := range []string{
		helloSHA256,
		"sha256:zz",
		"sha256:" + helloMD5,
		"crc32:deadbeef",
	} {
		_, err := ParseChecksum(bad)
		assert.Error(t, err, bad)
	}
	_, err = ParseChecksum("crc32:deadbeef")
	assert.ErrorIs(t, err, ErrUnsupportedDigest)
}

func TestDigestFromHeaders(t *testing.T) {
	const (
		sha256B64 = "aOZWslHmfoNYvvhIOrDVHGYZ8+ehqfDnWDjUH/No9yg="
		md5B64    = "Otu60XkfuuPskIiUxJY4cA=="
	)
	tests := []struct {
		name      string
		headers   map[string]string
		partial   bool
		algorithm string
		source    string
	}{
		{
			name:      "repr-digest",
			headers:   map[string]string{"Repr-Digest": "sha-256=:" + sha256B64 + ":"},
			algorithm: "sha256",
			source:    "Repr-Digest",
		},
		{
			name:      "repr-digest prefers the strongest algorithm",
			headers:   map[string]string{"Repr-Digest": "md5=:" + md5B64 + ":, sha-256=:" + sha256B64 + ":"},
			algorithm: "sha256",
			source:    "Repr-Digest",
		},
		{
			name:      "legacy digest",
			headers:   map[string]string{"Digest": "SHA-256=" + sha256B64},
			algorithm: "sha256",
			source:    "Digest",
		},
		{
			name:      "content-md5 on full response",
			headers:   map[string]string{"Content-MD5": md5B64},
			algorithm: "md5",
			source:    "Content-MD5",
		},
		{
			name:    "content-md5 ignored on partial response",
			headers: map[string]string{"Content-MD5": md5B64},
			partial: true,
		},
		{
			name:    "repr-digest without colons is ignored",
			headers: map[string]string{"Repr-Digest": "sha-256=" + sha256B64},
		},
		{
			name:    "wrong length",
			headers: map[string]string{"Repr-Digest": "sha-256=:" + md5B64 + ":"},
		},
		{
			name:    "unknown algorithm",
			headers: map[string]string{"Repr-Digest": "crc32c=:AAAAAA==:"},
		},
		{
			name: "no digest",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			d := digestFromHeaders(h, tt.partial)
			if tt.algorithm == "" {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, tt.algorithm, d.Algorithm)
			assert.Equal(t, tt.source, d.Source)
		})
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header  string
		want    contentRange
		wantErr bool
	}{
		{header: "bytes 0-99/1000", want: contentRange{start: 0, end: 99, total: 1000}},
		{header: "bytes 500-999/*", want: contentRange{start: 500, end: 999, total: -1}},
		{header: "bytes */1000", want: contentRange{start: -1, end: -1, total: 1000}},
		{header: "bytes 10-5/1000", wantErr: true},
		{header: "bytes 0-99", wantErr: true},
		{header: "items 0-99/1000", wantErr: true},
		{header: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := parseContentRange(tt.header)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRangeHeader(t *testing.T) {
	assert.Equal(t, "", rangeHeader(0, -1))
	assert.Equal(t, "bytes=100-", rangeHeader(100, -1))
	assert.Equal(t, "bytes=0-99", rangeHeader(0, 99))
	assert.Equal(t, "bytes=3500000-4999999", rangeHeader(3500000, 4999999))
}

func TestNewLimiterBurst(t *testing.T) {
	assert.Equal(t, minLimiterBurst, newLimiter(1).Burst())
	assert.Equal(t, 10*1024*1024, newLimiter(10*1024*1024).Burst())
}
