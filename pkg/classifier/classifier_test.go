package classifier

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"crxharvest/pkg/crx/crxtest"
	errs "crxharvest/pkg/errors"
	"crxharvest/pkg/logger"
	"crxharvest/pkg/manifest"
	"crxharvest/pkg/report"
	"crxharvest/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	networkID = "networknetworknetworknetworknetw"
	plainID   = "plainplainplainplainplainplainpl"
	brokenID  = "brokenbrokenbrokenbrokenbrokenbr"
	emptyID   = "emptyemptyemptyemptyemptyemptyem"
	badJSONID = "badjsonbadjsonbadjsonbadjsonbadj"
)

var networkFiles = map[string]string{
	"manifest.json":    `{"manifest_version":3,"name":"Net","host_permissions":["https://*/*"],"action":{"default_popup":"popup.html"}}`,
	"popup.html":       "<html></html>",
	"js/background.js": "console.log(1)",
}

var plainFiles = map[string]string{
	"manifest.json": `{"manifest_version":3,"name":"Plain","version":"1.0","icons":{"16":"i.png"},"permissions":["storage"]}`,
	"i.png":         "png",
}

type fixture struct {
	archives  *storage.Manager
	sourceDir string
	report    *report.Store
	log       *logger.TestLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	archiveDir := filepath.Join(root, "extension")

	_, err := crxtest.WriteCRX3(archiveDir, networkID, networkFiles)
	require.NoError(t, err)
	_, err = crxtest.WriteCRX3(archiveDir, plainID, plainFiles)
	require.NoError(t, err)
	_, err = crxtest.WriteCRX3(archiveDir, emptyID, map[string]string{"readme.txt": "no manifest"})
	require.NoError(t, err)
	_, err = crxtest.WriteCRX3(archiveDir, badJSONID, map[string]string{"manifest.json": `{"name":`})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(archiveDir, brokenID+".crx"), []byte("not a package"), 0644))

	archives, err := storage.NewManager(archiveDir)
	require.NoError(t, err)

	rep, err := report.Open(":memory:", logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { rep.Close() })

	return &fixture{
		archives:  archives,
		sourceDir: filepath.Join(root, "source"),
		report:    rep,
		log:       logger.NewTestLogger(),
	}
}

func (f *fixture) classifier(workers int) *Classifier {
	return New(f.archives, f.sourceDir, Options{
		Workers:  workers,
		Recorder: f.report,
		Logger:   f.log,
	})
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

func TestRun(t *testing.T) {
	for _, workers := range []int{1, 4} {
		f := newFixture(t)
		c := f.classifier(workers)

		summary, err := c.Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 5, summary.Archives)
		assert.Equal(t, DescriptorStats{Extracted: 3, Failed: 2}, summary.Descriptors)
		assert.Equal(t, 2, summary.Classified)
		assert.Equal(t, 1, summary.NetworkRelated)
		assert.Equal(t, 1, summary.Stripped)
		assert.Equal(t, ExtractStats{Packages: 1, Files: 3}, summary.Extraction)

		assert.Equal(t, []string{"js/background.js", "manifest.json", "popup.html"},
			listFiles(t, c.Dir(networkID)))
		assert.Equal(t, []string{"manifest.json"}, listFiles(t, c.Dir(plainID)))
		assert.NoDirExists(t, c.Dir(brokenID))

		assert.NotEmpty(t, f.log.WarningsFor(brokenID))
		assert.NotEmpty(t, f.log.WarningsFor(emptyID))
		assert.NotEmpty(t, f.log.WarningsFor(badJSONID))
		assert.Empty(t, f.log.WarningsFor(networkID))
	}
}

func TestRunRecordsReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.classifier(2).Run(ctx)
	require.NoError(t, err)

	net, ok, err := f.report.Get(ctx, networkID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, net.NetworkRelated)
	assert.Equal(t, []string{"host_permissions", "action_popup"}, net.Signals)

	plain, ok, err := f.report.Get(ctx, plainID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, plain.NetworkRelated)
	assert.Empty(t, plain.Signals)

	var kept map[string]interface{}
	require.NoError(t, json.Unmarshal(plain.Descriptor, &kept))
	assert.Equal(t, map[string]interface{}{
		"manifest_version": float64(3),
		"permissions":      []interface{}{"storage"},
	}, kept)

	totals, err := f.report.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.Totals{Classified: 2, NetworkRelated: 1}, totals)
}

func TestStrippedDescriptorStaysOnDisk(t *testing.T) {
	f := newFixture(t)
	c := f.classifier(1)

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(c.DescriptorPath(plainID))
	require.NoError(t, err)
	assert.JSONEq(t, plainFiles["manifest.json"], string(data))
}

func TestSecondRunSkipsExtractedDescriptors(t *testing.T) {
	f := newFixture(t)
	c := f.classifier(2)

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DescriptorStats{Present: 3, Failed: 2}, summary.Descriptors)
	assert.Equal(t, 1, summary.NetworkRelated)
}

func TestInterruptedDescriptorIsExtractedAgain(t *testing.T) {
	f := newFixture(t)
	c := f.classifier(1)

	require.NoError(t, os.MkdirAll(c.Dir(networkID), 0755))
	require.NoError(t, os.WriteFile(c.DescriptorPath(networkID)+".tmp", []byte(`{"manifest_vers`), 0644))

	stats, err := c.ExtractDescriptors(context.Background(), []string{networkID})
	require.NoError(t, err)
	assert.Equal(t, DescriptorStats{Extracted: 1}, stats)
	assert.Equal(t, []string{"manifest.json"}, listFiles(t, c.Dir(networkID)))

	results, err := c.Classify(context.Background(), []string{networkID})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].NetworkRelated())
}

func TestUnsafeIDsAreSkipped(t *testing.T) {
	f := newFixture(t)
	c := f.classifier(1)
	ids := []string{"../escaped", networkID}

	descriptors, err := c.ExtractDescriptors(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, DescriptorStats{Extracted: 1, Failed: 1}, descriptors)

	results, err := c.Classify(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, networkID, results[0].ID)

	extracted, err := c.ExtractSelected(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, ExtractStats{Packages: 1, Files: 3, Failed: 1}, extracted)

	assert.NoDirExists(t, filepath.Join(filepath.Dir(f.sourceDir), "escaped"))
	assert.NotEmpty(t, f.log.WarningsFor("../escaped"))
}

func TestExistingDescriptorWins(t *testing.T) {
	f := newFixture(t)
	c := f.classifier(1)

	require.NoError(t, os.MkdirAll(c.Dir(plainID), 0755))
	require.NoError(t, os.WriteFile(c.DescriptorPath(plainID),
		[]byte(`{"chrome_url_overrides":{"newtab":"tab.html"}}`), 0644))

	stats, err := c.ExtractDescriptors(context.Background(), []string{plainID})
	require.NoError(t, err)
	assert.Equal(t, DescriptorStats{Present: 1}, stats)

	results, err := c.Classify(context.Background(), []string{plainID})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []manifest.Signal{manifest.SignalURLOverrides}, results[0].Signals)
}

func TestExtractSelectedOverwrites(t *testing.T) {
	f := newFixture(t)
	c := f.classifier(1)

	stale := filepath.Join(c.Dir(networkID), "popup.html")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0644))

	stats, err := c.ExtractSelected(context.Background(), []string{networkID})
	require.NoError(t, err)
	assert.Equal(t, ExtractStats{Packages: 1, Files: 3}, stats)

	data, err := os.ReadFile(stale)
	require.NoError(t, err)
	assert.Equal(t, networkFiles["popup.html"], string(data))
}

func TestClassifyResultsSorted(t *testing.T) {
	f := newFixture(t)
	c := f.classifier(4)

	ids := []string{plainID, networkID}
	_, err := c.ExtractDescriptors(context.Background(), ids)
	require.NoError(t, err)

	results, err := c.Classify(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, networkID, results[0].ID)
	assert.True(t, results[0].NetworkRelated())
	assert.Equal(t, plainID, results[1].ID)
	assert.False(t, results[1].Descriptor.Has("name"))
}

func TestStorageFailureStopsRun(t *testing.T) {
	f := newFixture(t)
	blocker := filepath.Join(t.TempDir(), "source")
	require.NoError(t, os.WriteFile(blocker, []byte("a file, not a directory"), 0644))

	c := New(f.archives, blocker, Options{Workers: 1, Logger: logger.NewNopLogger()})
	_, err := c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsType(err, errs.ErrorTypeStorage))
}

func TestCancelledRun(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.classifier(2).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultWorkers(t *testing.T) {
	f := newFixture(t)
	assert.GreaterOrEqual(t, New(f.archives, f.sourceDir, Options{}).Workers(), 1)
	assert.Equal(t, 3, New(f.archives, f.sourceDir, Options{Workers: 3}).Workers())
}
