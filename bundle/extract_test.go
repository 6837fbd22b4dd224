package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomyedwab/apphost/tempdir"
)

type tarEntry struct {
	name string
	body string
	mode int64
	dir  bool
}

func writeTestBundle(t *testing.T, entries []tarEntry) string {
	t.Helper()

	var buf bytes.Buffer
	gzWriter := gzip.NewWriter(&buf)
	tarWriter := tar.NewWriter(gzWriter)

	for _, entry := range entries {
		header := &tar.Header{
			Name: entry.name,
			Mode: entry.mode,
		}
		if entry.dir {
			header.Typeflag = tar.TypeDir
		} else {
			header.Typeflag = tar.TypeReg
			header.Size = int64(len(entry.body))
		}
		require.NoError(t, tarWriter.WriteHeader(header))
		if !entry.dir {
			_, err := tarWriter.Write([]byte(entry.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tarWriter.Close())
	require.NoError(t, gzWriter.Close())

	path := filepath.Join(t.TempDir(), "app.tar.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func setupManager(t *testing.T) *tempdir.Manager {
	t.Helper()
	tf, err := tempdir.Setup(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, err)
	return tf
}

func validEntries() []tarEntry {
	return []tarEntry{
		{name: "bin", dir: true, mode: 0755},
		{name: "bin/app", body: "#!/bin/sh\nexit 0\n", mode: 0755},
		{name: "config/app.yaml", body: "exec: bin/app\nhost: a.example\n", mode: 0644},
		{name: "static/index.html", body: "<html></html>", mode: 0644},
	}
}

func TestExtractValidBundle(t *testing.T) {
	tf := setupManager(t)
	bundlePath := writeTestBundle(t, validEntries())

	dir, desc, err := Extract(tf, "myapp", bundlePath)
	require.NoError(t, err)
	require.NotNil(t, desc)

	assert.Equal(t, "bin/app", desc.Exec)
	assert.Equal(t, "a.example", desc.Host)
	assert.False(t, desc.SSL)
	assert.False(t, desc.Postgres)
	assert.Empty(t, desc.Args)
	assert.Empty(t, desc.ExtraHosts)

	body, err := os.ReadFile(filepath.Join(dir, "static", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(body))

	// Permission bits from the archive are preserved.
	info, err := os.Stat(filepath.Join(dir, "bin", "app"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestExtractFullDescriptor(t *testing.T) {
	tf := setupManager(t)
	bundlePath := writeTestBundle(t, []tarEntry{
		{name: "config/app.yaml", mode: 0644, body: `exec: bin/app
args: ["--verbose", "--workers=4"]
host: a.example
ssl: true
postgres: true
extra-hosts:
  - b.example
  - c.example
`},
	})

	_, desc, err := Extract(tf, "myapp", bundlePath)
	require.NoError(t, err)
	assert.Equal(t, []string{"--verbose", "--workers=4"}, desc.Args)
	assert.True(t, desc.SSL)
	assert.True(t, desc.Postgres)
	assert.Equal(t, []string{"b.example", "c.example"}, desc.ExtraHosts)
}

func TestExtractRejectsTraversal(t *testing.T) {
	tf := setupManager(t)
	outside := filepath.Join(tf.Root(), "..", "escaped.txt")

	entries := []tarEntry{
		{name: "config/app.yaml", body: "exec: bin/app\nhost: a.example\n", mode: 0644},
		{name: "../../escaped.txt", body: "pwned", mode: 0644},
	}
	bundlePath := writeTestBundle(t, entries)

	_, _, err := Extract(tf, "myapp", bundlePath)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSecurityViolation)

	// Nothing was written outside the extraction root and the partial
	// extraction directory was cleaned up.
	_, statErr := os.Stat(outside)
	assert.True(t, os.IsNotExist(statErr))
	assertScratchEmpty(t, tf)
}

func TestExtractMissingDescriptor(t *testing.T) {
	tf := setupManager(t)
	bundlePath := writeTestBundle(t, []tarEntry{
		{name: "bin/app", body: "x", mode: 0755},
	})

	_, _, err := Extract(tf, "myapp", bundlePath)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
	assertScratchEmpty(t, tf)
}

func TestExtractMalformedDescriptor(t *testing.T) {
	tf := setupManager(t)

	for name, body := range map[string]string{
		"not yaml":     "{{{{",
		"missing exec": "host: a.example\n",
		"missing host": "exec: bin/app\n",
	} {
		bundlePath := writeTestBundle(t, []tarEntry{
			{name: "config/app.yaml", body: body, mode: 0644},
		})
		_, _, err := Extract(tf, "myapp", bundlePath)
		assert.ErrorIs(t, err, ErrConfig, "case %q", name)
	}
	assertScratchEmpty(t, tf)
}

func TestExtractCorruptArchive(t *testing.T) {
	tf := setupManager(t)
	bundlePath := filepath.Join(t.TempDir(), "garbage.tar.gz")
	require.NoError(t, os.WriteFile(bundlePath, []byte("this is not gzip"), 0644))

	_, _, err := Extract(tf, "myapp", bundlePath)
	assert.Error(t, err)
	assertScratchEmpty(t, tf)
}

func TestExtractUnreadableBundle(t *testing.T) {
	tf := setupManager(t)
	_, _, err := Extract(tf, "myapp", filepath.Join(t.TempDir(), "nope.tar.gz"))
	assert.Error(t, err)
	assertScratchEmpty(t, tf)
}

func assertScratchEmpty(t *testing.T, tf *tempdir.Manager) {
	t.Helper()
	entries, err := os.ReadDir(tf.Root())
	require.NoError(t, err)
	assert.Empty(t, entries, "no orphaned extraction directories expected")
}
