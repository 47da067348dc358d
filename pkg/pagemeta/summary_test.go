package pagemeta

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<!DOCTYPE html>
<html><head><title>a page</title><link rel="stylesheet" href="s.css"></head>
<body>
<a href="/one">one</a>
<p><A HREF="/two">two <img src="inline.png"></A></p>
<img src="logo.png"/>
<div><a name="anchor-without-href"></a>
<!-- <a href="/commented">not counted</a> -->
</body></html>`

func TestSummarize(t *testing.T) {
	s, err := Summarize(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, 3, s.Links)
	assert.Equal(t, 2, s.Images)
}

func TestSummarizeEmpty(t *testing.T) {
	s, err := Summarize(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Summary{}, s)
}

func TestIsHTML(t *testing.T) {
	tests := []struct {
		contentType string
		expected    bool
	}{
		{"text/html", true},
		{"text/html; charset=utf-8", true},
		{"TEXT/HTML", true},
		{"application/xhtml+xml", false},
		{"application/octet-stream", false},
		{"", false},
	}
	for _, tc := range tests {
		t.Run(tc.contentType, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsHTML(tc.contentType))
		})
	}
}

func TestSummarizeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.com.html")
	require.NoError(t, os.WriteFile(path, []byte(page), 0o644))
	fetchedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	s, err := SummarizeFile(path, "example.com", fetchedAt)
	require.NoError(t, err)
	assert.Equal(t, "site: example.com\nnum_links: 3\nimages: 2\nlast_fetch: Fri, 01 Mar 2024 12:00:00 +0000\n", s.String())

	_, err = SummarizeFile(filepath.Join(t.TempDir(), "missing.html"), "example.com", fetchedAt)
	assert.Error(t, err)
}
