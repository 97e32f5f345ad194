package main

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"resume-ingest/internal/adapters"
	"resume-ingest/internal/pipeline"
	"resume-ingest/internal/progress"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "run --user <id> <files...>",
		Short: "Process files as one batch and print the batch result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			files, err := readBatchFiles(args)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			app, err := opts.build(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			batch := pipeline.Batch{ID: uuid.NewString(), UserID: userID, Files: files}
			agg := progress.NewAggregator(batch.ID, userID)
			events, unsubscribe := agg.Subscribe(64)

			bar := newBar(cmd.ErrOrStderr())
			done := make(chan struct{})
			go func() {
				defer close(done)
				renderProgress(bar, events)
			}()

			result, procErr := app.Coordinator.Process(ctx, batch, agg)
			unsubscribe()
			<-done
			_ = bar.Finish()

			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if procErr != nil {
				return procErr
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d of %d files failed", len(result.Errors), len(files))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user the resumes belong to")
	return cmd
}

// readBatchFiles loads paths in order and rejects types the pipeline cannot process.
func readBatchFiles(paths []string) ([]pipeline.File, error) {
	files := make([]pipeline.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%s is empty", p)
		}
		name := filepath.Base(p)
		mimeType := adapters.ResolveMime(mime.TypeByExtension(filepath.Ext(name)), http.DetectContentType(data), name, data)
		if !adapters.Supported(mimeType) {
			return nil, fmt.Errorf("%s has unsupported type %q", p, mimeType)
		}
		files = append(files, pipeline.File{
			ID:        uuid.NewString(),
			Name:      name,
			MimeType:  mimeType,
			SizeBytes: int64(len(data)),
			Data:      data,
		})
	}
	return files, nil
}

func newBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("queued"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
}

// renderProgress follows overall progress and shows the latest log line.
func renderProgress(bar *progressbar.ProgressBar, events <-chan progress.Event) {
	for ev := range events {
		if ev.Log != nil {
			bar.Describe(ev.Log.Message)
		}
		_ = bar.Set(ev.Overall)
	}
}
