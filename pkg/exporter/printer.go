package exporter

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"gallerysync/pkg/gallery"
	"gallerysync/pkg/journal"
	"gallerysync/pkg/pipeline"
	"gallerysync/pkg/types"
)

// PrintAlbums 以缩进树的形式打印远端相册
func PrintAlbums(w io.Writer, tree []gallery.Category) {
	if len(tree) == 0 {
		fmt.Fprintln(w, "No albums.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "ID\tALBUM\n")
	gallery.Walk(tree, func(p types.AlbumPath, c gallery.Category) {
		fmt.Fprintf(tw, "%d\t%s%s\n", c.ID, strings.Repeat("  ", len(p)-1), c.Name)
	})
	tw.Flush()
}

// PrintReport 打印一次运行的汇总
func PrintReport(w io.Writer, rep *pipeline.Report) {
	status := "✅ Sync complete"
	if !rep.OK() {
		status = "⚠️  Sync finished with problems"
	}
	fmt.Fprintf(w, "%s (run %s, %s)\n\n", status, rep.RunID, rep.Duration().Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		label string
		n     int
	}{
		{"assets", rep.Assets},
		{"files", rep.Discovered},
		{"albums known", rep.AlbumsKnown},
		{"albums created", rep.AlbumsCreated},
		{"hashed", rep.Hashed},
		{"  from cache", rep.HashCached},
		{"unavailable", rep.Unavailable},
		{"already present", rep.Present},
		{"uploaded", rep.Uploaded},
		{"deduplicated", rep.Deduplicated},
		{"albums updated", rep.Reconciled},
		{"albums unchanged", rep.Unchanged},
		{"failed", rep.Failed},
		{"cancelled", rep.Cancelled},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "  %s:\t%d\n", r.label, r.n)
	}
	tw.Flush()

	if len(rep.Errors) == 0 {
		return
	}

	counts := rep.FailuresByStage()
	stages := make([]string, 0, len(counts))
	for s := range counts {
		stages = append(stages, string(s))
	}
	sort.Strings(stages)

	fmt.Fprintf(w, "\n❌ Failures:\n")
	for _, s := range stages {
		fmt.Fprintf(w, "  [%s] %d\n", s, counts[pipeline.Stage(s)])
	}
	for _, e := range rep.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}

// PrintRuns 打印历史运行列表 (新的在前)
func PrintRuns(w io.Writer, runs []journal.RunModel) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "RUN\tSTARTED\tDURATION\tSTATUS\tUPLOADED\tPRESENT\tRECONCILED\tFAILED\n")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			shortID(r.ID),
			r.StartedAt.Local().Format(time.DateTime),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
			r.Status,
			r.Uploaded, r.Present, r.Reconciled, r.Failed,
		)
	}
	tw.Flush()
}

// PrintUploads 打印一次运行上传的文件
func PrintUploads(w io.Writer, uploads []journal.UploadModel) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "REMOTE\tMD5\tSIZE\tCHUNKS\tPATH\n")
	for _, u := range uploads {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", u.RemoteID, u.Fingerprint[:min(8, len(u.Fingerprint))], fmtSize(u.Size), u.Chunks, u.Path)
	}
	tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func fmtSize(s int64) string {
	if s < 1024 {
		return fmt.Sprintf("%dB", s)
	} else if s < 1024*1024 {
		return fmt.Sprintf("%.1fKB", float64(s)/1024)
	}
	return fmt.Sprintf("%.2fMB", float64(s)/1024/1024)
}
