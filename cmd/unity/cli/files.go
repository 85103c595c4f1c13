package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/unity-portal/unity/internal/core"
	"github.com/unity-portal/unity/internal/gcs"
)

// RegisterFileCommands adds workspace bucket file commands.
func RegisterFileCommands(root *cobra.Command) {
	fileCmd := &cobra.Command{
		Use:     "files",
		Aliases: []string{"file"},
		Short:   "Manage files in workspace buckets",
	}

	fileCmd.AddCommand(newFileListCmd())
	fileCmd.AddCommand(newFileGetCmd())
	fileCmd.AddCommand(newFileUploadCmd())
	fileCmd.AddCommand(newFileCopyCmd())
	fileCmd.AddCommand(newFileDeleteCmd())
	fileCmd.AddCommand(newFileDownloadCmd())
	fileCmd.AddCommand(newFileURLCmd())

	root.AddCommand(fileCmd)
}

// withStorage resolves the workspace argument, checks it against the
// configured scope and runs fn with the storage layer.
func withStorage(cmd *cobra.Command, workspace string, mutating bool, fn func(ctx context.Context, engine *core.Engine, s *gcs.Store, ns, name string) error) error {
	ns, name, err := splitWorkspace(workspace)
	if err != nil {
		return err
	}
	return withEngine(cmd, func(ctx context.Context, engine *core.Engine) error {
		if mutating {
			if err := engine.Scope.CheckNamespace(ns); err != nil {
				return err
			}
		}
		store, err := engine.Storage(ctx)
		if err != nil {
			return err
		}
		return fn(ctx, engine, store, ns, name)
	})
}

func printObjects(objects []gcs.Object) error {
	if jsonOutput {
		return printJSON(objects)
	}
	w := newTable()
	fmt.Fprintln(w, "NAME\tSIZE\tCONTENT TYPE\tUPDATED")
	for _, o := range objects {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", o.Name, o.Size, o.ContentType, o.Updated.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func newFileListCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "list <namespace/name>",
		Short: "List files in a workspace bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, args[0], false, func(ctx context.Context, engine *core.Engine, s *gcs.Store, ns, name string) error {
				var objects []gcs.Object
				var err error
				if dir != "" {
					objects, err = s.DirectoryFiles(ctx, ns, name, dir)
				} else {
					objects, err = s.Files(ctx, ns, name)
				}
				if err != nil {
					return err
				}
				return printObjects(objects)
			})
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Only list files under this directory")
	return cmd
}

func newFileGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <namespace/name> <object>",
		Short: "Show metadata of one file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, args[0], false, func(ctx context.Context, engine *core.Engine, s *gcs.Store, ns, name string) error {
				obj, err := s.File(ctx, ns, name, args[1])
				if err != nil {
					return err
				}
				return printJSON(obj)
			})
		},
	}
}

func newFileUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <namespace/name> <local-path> [object]",
		Short: "Upload a local file; object defaults to the file name",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			object := filepath.Base(args[1])
			if len(args) == 3 {
				object = args[2]
			}
			return withStorage(cmd, args[0], true, func(ctx context.Context, engine *core.Engine, s *gcs.Store, ns, name string) error {
				obj, err := s.CreateFile(ctx, ns, name, args[1], object)
				if err != nil {
					return err
				}
				fmt.Printf("Uploaded gs://%s/%s (%d bytes).\n", obj.Bucket, obj.Name, obj.Size)
				return nil
			})
		},
	}
}

func newFileCopyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "copy <namespace/name> <object> <destination>",
		Short: "Copy a file within the workspace bucket",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, args[0], true, func(ctx context.Context, engine *core.Engine, s *gcs.Store, ns, name string) error {
				obj, err := s.CopyFile(ctx, ns, name, args[1], args[2])
				if err != nil {
					return err
				}
				fmt.Printf("Copied to gs://%s/%s.\n", obj.Bucket, obj.Name)
				return nil
			})
		},
	}
}

func newFileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <namespace/name> <object>",
		Short: "Delete a file from the workspace bucket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, args[0], true, func(ctx context.Context, engine *core.Engine, s *gcs.Store, ns, name string) error {
				if err := s.DeleteFile(ctx, ns, name, args[1]); err != nil {
					return err
				}
				fmt.Printf("Deleted %s.\n", args[1])
				return nil
			})
		},
	}
}

func newFileDownloadCmd() *cobra.Command {
	var dest string

	cmd := &cobra.Command{
		Use:   "download <namespace/name> <object>",
		Short: "Download a file to a local directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, args[0], false, func(ctx context.Context, engine *core.Engine, s *gcs.Store, ns, name string) error {
				dir := dest
				if dir == "" {
					dir = filepath.Join(engine.Config.DataDir, "downloads")
				}
				path, err := s.DownloadFile(ctx, ns, name, args[1], dir)
				if err != nil {
					return err
				}
				fmt.Println(path)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&dest, "dest", "", "Destination directory (default <data_dir>/downloads)")
	return cmd
}

func newFileURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "url <namespace/name> <object>",
		Short: "Print a time-limited signed download URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, args[0], false, func(ctx context.Context, engine *core.Engine, s *gcs.Store, ns, name string) error {
				url, err := s.SignedURL(ctx, ns, name, args[1], engine.Config.SignedURLTTL)
				if err != nil {
					return err
				}
				fmt.Println(url)
				return nil
			})
		},
	}
}
