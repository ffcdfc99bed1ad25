package crx

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"crxharvest/pkg/crx/crxtest"
	errs "crxharvest/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleFiles = map[string]string{
	"manifest.json":        `{"manifest_version":3,"name":"Sample"}`,
	"background.js":        "console.log('bg')",
	"popup/popup.html":     "<html></html>",
	"_locales/en/msg.json": "{}",
}

func writePackage(t *testing.T, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "pkg.crx")
	require.NoError(t, os.WriteFile(p, data, 0644))
	return p
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, _ := filepath.Rel(dir, path)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

func TestOpenFormats(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		version int
	}{
		{"crx3", crxtest.CRX3(sampleFiles), 3},
		{"crx2", crxtest.CRX2(sampleFiles), 2},
		{"bare zip", crxtest.Zip(sampleFiles), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg, err := Open(writePackage(t, tt.data))
			require.NoError(t, err)
			defer pkg.Close()

			assert.Equal(t, tt.version, pkg.Version())

			dest := t.TempDir()
			n, err := pkg.ExtractAll(dest)
			require.NoError(t, err)
			assert.Equal(t, 4, n)
			assert.Equal(t, []string{"_locales/en/msg.json", "background.js", "manifest.json", "popup/popup.html"},
				listFiles(t, dest))

			data, err := os.ReadFile(filepath.Join(dest, "manifest.json"))
			require.NoError(t, err)
			assert.JSONEq(t, sampleFiles["manifest.json"], string(data))
		})
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	tests := map[string][]byte{
		"html error page":  []byte("<html>quota exceeded</html>"),
		"tiny":             []byte("Cr"),
		"bad version":      append([]byte("Cr24\x07\x00\x00\x00\x00\x00\x00\x00"), crxtest.Zip(sampleFiles)...),
		"header too large": []byte("Cr24\x03\x00\x00\x00\xff\xff\x00\x00rest"),
		"truncated zip":    crxtest.CRX3(sampleFiles)[:60],
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Open(writePackage(t, data))
			require.Error(t, err)
			assert.True(t, errs.IsType(err, errs.ErrorTypeArchive), err.Error())
		})
	}
}

func TestZipOffset(t *testing.T) {
	data := crxtest.CRX3(sampleFiles)
	version, offset, err := ZipOffset(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, 3, version)
	assert.Equal(t, []byte("PK\x03\x04"), data[offset:offset+4])

	data = crxtest.CRX2(sampleFiles)
	version, offset, err = ZipOffset(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	assert.Equal(t, []byte("PK\x03\x04"), data[offset:offset+4])
}

func TestExtractFile(t *testing.T) {
	pkg, err := Open(writePackage(t, crxtest.CRX3(sampleFiles)))
	require.NoError(t, err)
	defer pkg.Close()

	dest := filepath.Join(t.TempDir(), "source", "abc")
	require.NoError(t, pkg.ExtractFile("manifest.json", dest))

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the requested entry is written")
	assert.Equal(t, "manifest.json", entries[0].Name())

	_, err = os.Stat(filepath.Join(dest, "manifest.json.tmp"))
	assert.True(t, os.IsNotExist(err), "temporary file should be renamed away")

	err = pkg.ExtractFile("missing.json", dest)
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeArchive))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExtractFileReplacesLeftoverTemp(t *testing.T) {
	pkg, err := Open(writePackage(t, crxtest.CRX3(sampleFiles)))
	require.NoError(t, err)
	defer pkg.Close()

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "manifest.json.tmp"), []byte(`{"manifest_ver`), 0644))

	require.NoError(t, pkg.ExtractFile("manifest.json", dest))
	assert.Equal(t, []string{"manifest.json"}, listFiles(t, dest))

	data, err := os.ReadFile(filepath.Join(dest, "manifest.json"))
	require.NoError(t, err)
	assert.JSONEq(t, sampleFiles["manifest.json"], string(data))
}

func TestExtractAll(t *testing.T) {
	pkg, err := Open(writePackage(t, crxtest.CRX3(sampleFiles)))
	require.NoError(t, err)
	defer pkg.Close()

	dest := filepath.Join(t.TempDir(), "abc")
	require.NoError(t, os.MkdirAll(dest, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "manifest.json"), []byte("stale"), 0644))

	n, err := pkg.ExtractAll(dest)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	for name, want := range sampleFiles {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		assert.Equal(t, want, string(got), name)
	}
}

func TestExtractAllRejectsZipSlip(t *testing.T) {
	evil := crxtest.CRX3(map[string]string{
		"manifest.json":    "{}",
		"../../escape.txt": "pwned",
	})
	pkg, err := Open(writePackage(t, evil))
	require.NoError(t, err)
	defer pkg.Close()

	root := t.TempDir()
	dest := filepath.Join(root, "source", "abc")
	_, err = pkg.ExtractAll(dest)
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeArchive))

	_, statErr := os.Stat(filepath.Join(root, "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSafeJoin(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out")

	ok := []string{"manifest.json", "a/b/c.js", "./x.js", "dir/file.js"}
	for _, name := range ok {
		target, err := SafeJoin(dest, name)
		require.NoError(t, err, name)
		rel, err := filepath.Rel(dest, target)
		require.NoError(t, err)
		assert.NotContains(t, rel, "..", name)
	}

	bad := []string{"", "../x", "a/../../x", "/etc/passwd", "..\\x", "a\x00b"}
	for _, name := range bad {
		_, err := SafeJoin(dest, name)
		assert.Error(t, err, "%q", name)
	}
}
