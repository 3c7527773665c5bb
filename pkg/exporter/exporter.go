// Package exporter 负责把同步结果输出给人或其他程序
package exporter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gallerysync/pkg/pipeline"
)

// ReportJSON 是 Report 的稳定 JSON 形态，供脚本消费
type ReportJSON struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	OK         bool           `json:"ok"`
	Counts     map[string]int `json:"counts"`
	Errors     []ErrorJSON    `json:"errors"`
}

type ErrorJSON struct {
	Stage   string `json:"stage"`
	Asset   string `json:"asset,omitempty"`
	Variant string `json:"variant,omitempty"`
	Error   string `json:"error"`
}

func toJSON(rep *pipeline.Report) ReportJSON {
	out := ReportJSON{
		RunID:      rep.RunID,
		StartedAt:  rep.StartedAt,
		FinishedAt: rep.FinishedAt,
		OK:         rep.OK(),
		Counts: map[string]int{
			"assets":         rep.Assets,
			"discovered":     rep.Discovered,
			"albums_known":   rep.AlbumsKnown,
			"albums_created": rep.AlbumsCreated,
			"hashed":         rep.Hashed,
			"hash_cached":    rep.HashCached,
			"unavailable":    rep.Unavailable,
			"checked":        rep.Checked,
			"present":        rep.Present,
			"uploaded":       rep.Uploaded,
			"deduplicated":   rep.Deduplicated,
			"reconciled":     rep.Reconciled,
			"unchanged":      rep.Unchanged,
			"failed":         rep.Failed,
			"cancelled":      rep.Cancelled,
		},
		Errors: make([]ErrorJSON, 0, len(rep.Errors)),
	}
	for _, e := range rep.Errors {
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		out.Errors = append(out.Errors, ErrorJSON{
			Stage:   string(e.Stage),
			Asset:   e.Asset,
			Variant: e.Variant,
			Error:   msg,
		})
	}
	return out
}

// WriteReport 把 Report 以 JSON 写入 w
func WriteReport(w io.Writer, rep *pipeline.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toJSON(rep))
}

// ExportReport 原子地把 Report 写到文件: 先写临时文件再 rename
func ExportReport(path string, rep *pipeline.Report) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create report dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".report-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := WriteReport(tmp, rep); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
