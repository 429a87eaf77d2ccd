package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/marmos91/dittostore/pkg/storage"
	"github.com/spf13/cobra"
)

var readFlags struct {
	Output string
	Offset int64
	Length int64
}

var writeFlags struct {
	Input              string
	ContentType        string
	ContentDisposition string
	CacheControl       string
	Append             bool
	ChunkSize          int64
}

var listFlags struct {
	Recursive  bool
	Limit      int
	StartAfter string
	Long       bool
}

var removeFlags struct {
	Recursive bool
}

var presignFlags struct {
	Operation   string
	Expire      time.Duration
	ContentType string
}

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Print the metadata of an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOperator(cmd, func(ctx context.Context, op *storage.Operator) error {
			md, err := op.Stat(ctx, args[0])
			if err != nil {
				return err
			}
			printMetadata(cmd.OutOrStdout(), args[0], md)
			return nil
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <path>",
	Short: "Write the content of an object to stdout or a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOperator(cmd, func(ctx context.Context, op *storage.Operator) error {
			opts := storage.ReadOptions{}
			if readFlags.Offset > 0 || readFlags.Length >= 0 {
				opts.Range = storage.NewBytesRange(readFlags.Offset, readFlags.Length)
			}

			r, err := op.Reader(ctx, args[0], opts)
			if err != nil {
				return err
			}
			defer func() { _ = r.Close() }()

			out := cmd.OutOrStdout()
			if readFlags.Output != "" && readFlags.Output != "-" {
				f, err := os.Create(readFlags.Output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer func() { _ = f.Close() }()
				out = f
			}

			if _, err := io.Copy(out, r); err != nil {
				return err
			}
			return nil
		})
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <path>",
	Short: "Write stdin or a file to an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOperator(cmd, func(ctx context.Context, op *storage.Operator) error {
			in := cmd.InOrStdin()
			if writeFlags.Input != "" && writeFlags.Input != "-" {
				f, err := os.Open(writeFlags.Input)
				if err != nil {
					return fmt.Errorf("failed to open input file: %w", err)
				}
				defer func() { _ = f.Close() }()
				in = f
			}

			w, err := op.Writer(ctx, args[0], storage.WriteOptions{
				ContentType:        writeFlags.ContentType,
				ContentDisposition: writeFlags.ContentDisposition,
				CacheControl:       writeFlags.CacheControl,
				Append:             writeFlags.Append,
				ChunkSize:          writeFlags.ChunkSize,
			})
			if err != nil {
				return err
			}

			n, err := io.Copy(w, in)
			if err != nil {
				_ = w.Abort()
				return err
			}
			if err := w.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d bytes written to %s\n", n, args[0])
			return nil
		})
	},
}

var listCmd = &cobra.Command{
	Use:     "ls [path]",
	Aliases: []string{"list"},
	Short:   "List the entries under a directory",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "/"
		if len(args) == 1 {
			dir = args[0]
		}

		return withOperator(cmd, func(ctx context.Context, op *storage.Operator) error {
			opts := storage.ListOptions{
				Limit:      listFlags.Limit,
				StartAfter: listFlags.StartAfter,
				Recursive:  listFlags.Recursive,
			}
			if listFlags.Long {
				opts.Metakey = storage.MetakeyMode | storage.MetakeyContentLength | storage.MetakeyLastModified
			}

			lister, err := op.List(ctx, dir, opts)
			if err != nil {
				return err
			}
			defer func() { _ = lister.Close() }()

			out := cmd.OutOrStdout()
			for {
				entry, err := lister.Next(ctx)
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				if listFlags.Long {
					printEntryLong(out, entry)
				} else {
					fmt.Fprintln(out, entry.Path())
				}
			}
		})
	},
}

var removeCmd = &cobra.Command{
	Use:     "rm <path>...",
	Aliases: []string{"delete"},
	Short:   "Delete objects",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOperator(cmd, func(ctx context.Context, op *storage.Operator) error {
			if removeFlags.Recursive {
				for _, p := range args {
					if err := op.RemoveAll(ctx, p); err != nil {
						return err
					}
				}
				return nil
			}
			if len(args) == 1 {
				return op.Delete(ctx, args[0])
			}

			results, err := op.Batch(ctx, args)
			if err != nil {
				return err
			}
			var failed []error
			for _, r := range results {
				if r.Err != nil {
					failed = append(failed, fmt.Errorf("%s: %w", r.Path, r.Err))
				}
			}
			return errors.Join(failed...)
		})
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOperator(cmd, func(ctx context.Context, op *storage.Operator) error {
			return op.CreateDir(ctx, args[0])
		})
	},
}

var copyCmd = &cobra.Command{
	Use:   "cp <from> <to>",
	Short: "Copy an object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOperator(cmd, func(ctx context.Context, op *storage.Operator) error {
			return op.Copy(ctx, args[0], args[1])
		})
	},
}

var renameCmd = &cobra.Command{
	Use:   "mv <from> <to>",
	Short: "Rename an object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOperator(cmd, func(ctx context.Context, op *storage.Operator) error {
			return op.Rename(ctx, args[0], args[1])
		})
	},
}

var presignCmd = &cobra.Command{
	Use:   "presign <path>",
	Short: "Print a presigned HTTP request for an object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		operation := storage.PresignOperation(presignFlags.Operation)
		switch operation {
		case storage.PresignStat, storage.PresignRead, storage.PresignWrite:
		default:
			return fmt.Errorf("invalid presign operation %q (expected stat, read or write)", presignFlags.Operation)
		}

		return withOperator(cmd, func(ctx context.Context, op *storage.Operator) error {
			req, err := op.Presign(ctx, args[0], storage.PresignOptions{
				Operation:   operation,
				Expire:      presignFlags.Expire,
				ContentType: presignFlags.ContentType,
			})
			if err != nil {
				return err
			}
			printPresigned(cmd.OutOrStdout(), req)
			return nil
		})
	},
}

func init() {
	readCmd.Flags().StringVarP(&readFlags.Output, "output", "O", "", "Write to this file instead of stdout")
	readCmd.Flags().Int64Var(&readFlags.Offset, "offset", 0, "First byte to read")
	readCmd.Flags().Int64Var(&readFlags.Length, "length", -1, "Number of bytes to read (-1 reads to the end)")

	writeCmd.Flags().StringVarP(&writeFlags.Input, "input", "i", "", "Read from this file instead of stdin")
	writeCmd.Flags().StringVar(&writeFlags.ContentType, "content-type", "", "Content-Type of the object")
	writeCmd.Flags().StringVar(&writeFlags.ContentDisposition, "content-disposition", "", "Content-Disposition of the object")
	writeCmd.Flags().StringVar(&writeFlags.CacheControl, "cache-control", "", "Cache-Control of the object")
	writeCmd.Flags().BoolVar(&writeFlags.Append, "append", false, "Append to an existing object")
	writeCmd.Flags().Int64Var(&writeFlags.ChunkSize, "chunk-size", 0, "Upload in parts of this many bytes")

	listCmd.Flags().BoolVarP(&listFlags.Recursive, "recursive", "r", false, "List every descendant")
	listCmd.Flags().IntVar(&listFlags.Limit, "limit", 0, "Page size hint")
	listCmd.Flags().StringVar(&listFlags.StartAfter, "start-after", "", "Skip entries up to and including this path")
	listCmd.Flags().BoolVarP(&listFlags.Long, "long", "l", false, "Print size and modification time")

	removeCmd.Flags().BoolVarP(&removeFlags.Recursive, "recursive", "r", false, "Delete directories and their content")

	presignCmd.Flags().StringVar(&presignFlags.Operation, "op", string(storage.PresignRead), "Operation to sign: stat, read or write")
	presignCmd.Flags().DurationVar(&presignFlags.Expire, "expire", time.Hour, "Validity of the signed request")
	presignCmd.Flags().StringVar(&presignFlags.ContentType, "content-type", "", "Content-Type signed into write requests")

	rootCmd.AddCommand(statCmd, readCmd, writeCmd, listCmd, removeCmd, mkdirCmd, copyCmd, renameCmd, presignCmd)
}
