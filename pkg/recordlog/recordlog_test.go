package recordlog

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crxharvest/pkg/logger"
	"crxharvest/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id string) models.CatalogRecord {
	return models.CatalogRecord{
		ID:          id,
		Name:        "ext " + id,
		RatingScore: json.RawMessage(`4.2`),
		StarCount:   json.RawMessage(`"17"`),
		UserCount:   "1,000+",
	}
}

func TestAppendDedup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "extensions.txt")
	l, err := Open(path, logger.NewNopLogger())
	require.NoError(t, err)
	defer l.Close()

	written, err := l.Append(record("a"))
	require.NoError(t, err)
	assert.True(t, written)

	written, err = l.Append(record("a"))
	require.NoError(t, err)
	assert.False(t, written, "duplicate id must not be written twice")

	written, err = l.Append(record("b"))
	require.NoError(t, err)
	assert.True(t, written)

	assert.True(t, l.Contains("a"))
	assert.False(t, l.Contains("c"))
	assert.Equal(t, 2, l.Index().Len())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
}

func TestAppendRejectsEmptyID(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "extensions.txt"), logger.NewNopLogger())
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Append(models.CatalogRecord{Name: "anonymous"})
	assert.Error(t, err)
}

func TestReopenRebuildsIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extensions.txt")

	l, err := Open(path, logger.NewNopLogger())
	require.NoError(t, err)
	_, err = l.Append(record("a"))
	require.NoError(t, err)
	_, err = l.Append(record("b"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = Open(path, logger.NewNopLogger())
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, 2, l.Index().Len())
	written, err := l.Append(record("b"))
	require.NoError(t, err)
	assert.False(t, written)
}

func TestMalformedLinesAreSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extensions.txt")
	content := `{"id":"a","name":"first","user_count":"5"}
not json at all
{"name":"no id"}

{"id":"b","name":"second","user_count":"10"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	log := logger.NewTestLogger()
	records, err := ReadAll(path, log)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "b", records[1].ID)
	assert.Len(t, log.GetMessagesByLevel("WARN"), 2)

	l, err := Open(path, log)
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, 2, l.Index().Len())
}

func TestReadAllMissingLog(t *testing.T) {
	_, err := ReadAll(filepath.Join(t.TempDir(), "missing.txt"), logger.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestRecordRoundTripKeepsRawFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extensions.txt")
	l, err := Open(path, logger.NewNopLogger())
	require.NoError(t, err)
	_, err = l.Append(record("a"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	records, err := ReadAll(path, logger.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, json.RawMessage(`"17"`), records[0].StarCount)
	assert.Equal(t, json.RawMessage(`4.2`), records[0].RatingScore)
	assert.Equal(t, "1,000+", records[0].UserCount)
}
