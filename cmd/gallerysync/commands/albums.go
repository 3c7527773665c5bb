package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gallerysync/pkg/album"
	"gallerysync/pkg/app"
	"gallerysync/pkg/exporter"
	"gallerysync/pkg/library"

	"github.com/spf13/cobra"
)

var albumsCmd = &cobra.Command{
	Use:   "albums",
	Short: "List the album tree of the gallery",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if GS == nil {
			return fmt.Errorf("app not initialized")
		}
		ctx := cmd.Context()
		if _, err := GS.Login(ctx); err != nil {
			return err
		}
		tree, err := GS.Gallery.ListAlbums(ctx)
		if err != nil {
			return err
		}
		exporter.PrintAlbums(cmd.OutOrStdout(), tree)
		return nil
	},
}

var albumsEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create every album the local library needs, without uploading",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if GS == nil {
			return fmt.Errorf("app not initialized")
		}
		return runEnsureAlbums(cmd.Context(), GS, cmd.OutOrStdout())
	},
}

// runEnsureAlbums 只执行流水线的相册阶段
func runEnsureAlbums(ctx context.Context, a *app.App, w io.Writer) error {
	if _, err := a.Login(ctx); err != nil {
		return err
	}

	tree, err := a.Gallery.ListAlbums(ctx)
	if err != nil {
		return err
	}
	dir := album.NewDirectory(a.Gallery)
	dir.Load(tree)

	assets, err := a.Library().List(ctx)
	if err != nil {
		return err
	}
	paths := library.Albums(assets)

	err = dir.EnsureAll(ctx, paths)
	fmt.Fprintf(w, "📁 %d albums needed, %d created\n", len(paths), dir.Created())

	var ce *album.CreateError
	if errors.As(err, &ce) {
		fmt.Fprintf(w, "❌ failed to create %s\n", ce.Path)
	}
	return err
}

func init() {
	albumsCmd.AddCommand(albumsEnsureCmd)
	rootCmd.AddCommand(albumsCmd)
}
