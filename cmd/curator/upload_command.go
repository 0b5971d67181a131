package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"curator/internal/api"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var contentType string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a document and start its processing pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}

			client := ctx.client()
			intent, err := client.UploadIntent(cmd.Context(), api.UploadIntentRequest{
				Filename:    filepath.Base(path),
				ContentType: contentType,
				SizeBytes:   info.Size(),
			})
			if err != nil {
				return err
			}

			if err := transferFile(cmd, path, intent.UploadURL, contentType); err != nil {
				return fmt.Errorf("transfer upload: %w", err)
			}

			confirm, err := client.UploadConfirm(cmd.Context(), intent.DocumentID, intent.VersionID)
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, confirm)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Document: %s\n", intent.DocumentID)
			fmt.Fprintf(out, "Version:  %s\n", intent.VersionID)
			fmt.Fprintf(out, "Job:      #%d %s (%s)\n", confirm.Job.ID, confirm.Job.Type, confirm.Job.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&contentType, "content-type", "", "Override the detected content type")
	return cmd
}

// transferFile moves the bytes to the granted location: an HTTP PUT for
// presigned object-store URLs, a local copy for file:// grants.
func transferFile(cmd *cobra.Command, path, uploadURL, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if strings.HasPrefix(uploadURL, "file://") {
		target := strings.TrimPrefix(uploadURL, "file://")
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		dst, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(dst, f); err != nil {
			dst.Close()
			return err
		}
		return dst.Close()
	}

	info, err := f.Stat()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPut, uploadURL, f)
	if err != nil {
		return err
	}
	req.ContentLength = info.Size()
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("upload target returned http %d", resp.StatusCode)
	}
	return nil
}
