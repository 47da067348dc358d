package rget_test

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"testing/iotest"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rget "github.com/replicate/rget/pkg"
	"github.com/replicate/rget/pkg/client"
	"github.com/replicate/rget/pkg/download"
)

var testFS = fstest.MapFS{
	"hello.txt": {Data: []byte("hello, world!")},
}

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

var defaultOpts = client.Options{}
var http2Opts = client.Options{ForceHTTP2: true}

func makeGetter(opts client.Options) *rget.Getter {
	return &rget.Getter{
		Fetcher: client.New(opts),
		Options: download.Options{MaxConcurrency: 8, MinSegmentSize: humanize.MiByte},
	}
}

// writeRandomFile creates a sparse file with the given size and
// writes some random bytes somewhere in it.  This is much faster than
// filling the whole file with random bytes would be, but it also
// gives us some confidence that the range requests are being
// reassembled correctly.
func writeRandomFile(t require.TestingT, path string, size int64) {
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()

	rnd := rand.New(rand.NewSource(99))

	// under 1 MiB, just fill the whole file with random data
	if size < 1*humanize.MiByte {
		_, err = io.CopyN(file, rnd, size)
		require.NoError(t, err)
		return
	}

	// set the file size
	err = file.Truncate(size)
	require.NoError(t, err)

	// write some random data to the start
	_, err = io.CopyN(file, rnd, 1*humanize.KiByte)
	require.NoError(t, err)

	// and somewhere else in the file
	_, err = file.Seek(rnd.Int63()%(size-1*humanize.KiByte), io.SeekStart)
	require.NoError(t, err)
	_, err = io.CopyN(file, rnd, 1*humanize.KiByte)
	require.NoError(t, err)
}

func assertFileHasContent(t *testing.T, expectedContent []byte, path string) {
	contentFile, err := os.Open(path)
	require.NoError(t, err)
	defer contentFile.Close()

	assert.NoError(t, iotest.TestReader(contentFile, expectedContent))
}

func TestDownloadSmallFile(t *testing.T) {
	ts := httptest.NewServer(http.FileServer(http.FS(testFS)))
	defer ts.Close()

	dest := filepath.Join(t.TempDir(), "hello.txt")
	getter := makeGetter(defaultOpts)

	result, err := getter.DownloadFile(context.Background(), ts.URL+"/hello.txt", dest)
	require.NoError(t, err)
	assert.Equal(t, int64(13), result.Size)

	assertFileHasContent(t, testFS["hello.txt"].Data, dest)
	_, err = os.Stat(download.SidecarPath(dest))
	assert.True(t, os.IsNotExist(err))
}

func testDownloadSingleFile(opts client.Options, size int64, t *testing.T) {
	dir := t.TempDir()
	srcFilename := filepath.Join(dir, "random-bytes")
	writeRandomFile(t, srcFilename, size)

	ts := httptest.NewServer(http.FileServer(http.Dir(dir)))
	defer ts.Close()

	getter := makeGetter(opts)
	dest := filepath.Join(t.TempDir(), "random-bytes")

	result, err := getter.DownloadFile(context.Background(), ts.URL+"/random-bytes", dest)
	require.NoError(t, err)
	assert.Equal(t, size, result.Size)
	assert.Greater(t, result.Segments, 1)

	expected, err := os.ReadFile(srcFilename)
	require.NoError(t, err)
	assertFileHasContent(t, expected, dest)
}

func TestDownload10MH1(t *testing.T) { testDownloadSingleFile(defaultOpts, 10*humanize.MiByte, t) }
func TestDownload10MH2(t *testing.T) { testDownloadSingleFile(http2Opts, 10*humanize.MiByte, t) }

func TestDownload100MH1(t *testing.T) {
	if testing.Short() {
		t.Skip("large download")
	}
	testDownloadSingleFile(defaultOpts, 100*humanize.MiByte, t)
}

func TestDownloadAfterCancelledRun(t *testing.T) {
	dir := t.TempDir()
	srcFilename := filepath.Join(dir, "random-bytes")
	writeRandomFile(t, srcFilename, 8*humanize.MiByte)
	expected, err := os.ReadFile(srcFilename)
	require.NoError(t, err)

	ts := httptest.NewServer(http.FileServer(http.Dir(dir)))
	defer ts.Close()
	dest := filepath.Join(t.TempDir(), "random-bytes")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = makeGetter(defaultOpts).DownloadFile(ctx, ts.URL+"/random-bytes", dest)
	require.ErrorIs(t, err, context.Canceled)

	result, err := makeGetter(defaultOpts).DownloadFile(context.Background(), ts.URL+"/random-bytes", dest)
	require.NoError(t, err)
	assertFileHasContent(t, expected, dest)
	assert.Equal(t, int64(8*humanize.MiByte), result.Size)
}
