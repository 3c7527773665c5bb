package exporter

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gallerysync/pkg/gallery"
	"gallerysync/pkg/journal"
	"gallerysync/pkg/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *pipeline.Report {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &pipeline.Report{
		RunID:      "5f0c7a52-0000-4000-8000-000000000000",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Assets:     3,
		Discovered: 4,
		Hashed:     4,
		Checked:    4,
		Present:    1,
		Uploaded:   2,
		Failed:     1,
		Errors: []*pipeline.StageError{
			{Stage: pipeline.StageUpload, Asset: "a1", Variant: "Trips/IMG_1.JPG", Err: errors.New("boom")},
		},
	}
}

func TestPrintAlbums_Indented(t *testing.T) {
	var buf bytes.Buffer
	PrintAlbums(&buf, []gallery.Category{
		{ID: 7, Name: "Trips", Children: []gallery.Category{{ID: 9, Name: "Paris"}}},
		{ID: 3, Name: "Family"},
	})

	out := buf.String()
	assert.Contains(t, out, "7    Trips\n")
	assert.Contains(t, out, "9      Paris\n", "子相册需要缩进")
	assert.Contains(t, out, "Family")
}

func TestPrintAlbums_Empty(t *testing.T) {
	var buf bytes.Buffer
	PrintAlbums(&buf, nil)
	assert.Equal(t, "No albums.\n", buf.String())
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleReport())

	out := buf.String()
	assert.Contains(t, out, "finished with problems")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "uploaded:")
	assert.Contains(t, out, "[upload] 1")
	assert.Contains(t, out, "[upload] Trips/IMG_1.JPG (a1): boom")
}

func TestPrintReport_OK(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, &pipeline.Report{RunID: "r"})
	assert.Contains(t, buf.String(), "Sync complete")
	assert.NotContains(t, buf.String(), "Failures")
}

func TestPrintRuns(t *testing.T) {
	start := time.Now()
	var buf bytes.Buffer
	PrintRuns(&buf, []journal.RunModel{
		{ID: "0123456789abcdef", StartedAt: start, FinishedAt: start.Add(3 * time.Second), Status: "ok", Uploaded: 5},
	})

	out := buf.String()
	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, "01234567 ")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "3s")
}

func TestPrintUploads(t *testing.T) {
	var buf bytes.Buffer
	PrintUploads(&buf, []journal.UploadModel{
		{RemoteID: 42, Fingerprint: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Size: 2048, Chunks: 1, Path: "a.jpg"},
	})
	assert.Contains(t, buf.String(), "aaaaaaaa")
	assert.Contains(t, buf.String(), "2.0KB")
}

func TestFmtSize(t *testing.T) {
	assert.Equal(t, "512B", fmtSize(512))
	assert.Equal(t, "1.5KB", fmtSize(1536))
	assert.Equal(t, "2.00MB", fmtSize(2*1024*1024))
}

func TestExportReport_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.json")
	require.NoError(t, ExportReport(path, sampleReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got ReportJSON
	require.NoError(t, json.Unmarshal(data, &got))
	assert.False(t, got.OK)
	assert.Equal(t, 2, got.Counts["uploaded"])
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "upload", got.Errors[0].Stage)
	assert.Equal(t, "boom", got.Errors[0].Error)

	// 临时文件不应残留
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
