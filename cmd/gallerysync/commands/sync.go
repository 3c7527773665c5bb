package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"gallerysync/pkg/app"
	"gallerysync/pkg/exporter"
	"gallerysync/pkg/pipeline"

	"github.com/spf13/cobra"
)

var syncReportPath string

// ErrSyncIncomplete 表示有条目失败或被取消
var ErrSyncIncomplete = errors.New("sync incomplete")

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload new media and reconcile album membership",
	Long: `Walk the local library, upload every file the gallery does not have yet
and make sure each remote image belongs to all albums its local copies live in.
Album membership is only ever extended, never reduced.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if GS == nil {
			return fmt.Errorf("app not initialized")
		}
		_, err := runSync(cmd.Context(), GS, cmd.OutOrStdout(), syncReportPath)
		return err
	},
}

// runSync 登录、执行流水线、记录并打印结果
func runSync(ctx context.Context, a *app.App, w io.Writer, reportPath string) (*pipeline.Report, error) {
	// 1. 登录
	version, err := a.Login(ctx)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "🔗 Connected to Piwigo %s as %s\n", version, a.Settings.Gallery.User)

	// 2. 执行
	rep, runErr := a.Pipeline().Run(ctx, a.Library())

	// 3. 记录；取消后依然要写入，所以脱离 ctx
	if a.Journal != nil && rep != nil {
		if err := a.Journal.SaveRun(context.WithoutCancel(ctx), rep); err != nil {
			slog.WarnContext(ctx, "failed to record run", slog.String("run", rep.RunID), slog.String("err", err.Error()))
		}
	}

	if err := a.SaveIndex(context.WithoutCancel(ctx)); err != nil {
		slog.WarnContext(ctx, "failed to save fingerprint index", slog.String("err", err.Error()))
	}

	// 4. 输出
	if rep != nil {
		fmt.Fprintln(w)
		exporter.PrintReport(w, rep)
		if reportPath != "" {
			if err := exporter.ExportReport(reportPath, rep); err != nil {
				return rep, fmt.Errorf("failed to write report: %w", err)
			}
		}
	}

	if runErr != nil {
		return rep, runErr
	}
	if !rep.OK() {
		return rep, fmt.Errorf("%w: %d failed, %d cancelled", ErrSyncIncomplete, rep.Failed, rep.Cancelled)
	}
	return rep, nil
}

func init() {
	syncCmd.Flags().StringVar(&syncReportPath, "report", "", "Also write the run report as JSON to this file")
	rootCmd.AddCommand(syncCmd)
}
