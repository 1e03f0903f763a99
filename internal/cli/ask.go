package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"dermassist/internal/app"
	"dermassist/internal/model"
	"dermassist/internal/rag"
)

// localOwnerID owns every document ragctl ingests.
const localOwnerID = 1

func newAskCommand(load loadAppFunc) *cobra.Command {
	var (
		files []string
		topK  int
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ingest files and answer a question from them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(files) == 0 {
				return errors.New("at least one --file is required")
			}
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			for _, path := range files {
				view, err := ingestFile(cmd, a.RAG, path, a.Config.MaxUploadBytes())
				if err != nil {
					return fmt.Errorf("ingest %s failed: %w", path, err)
				}
				if view.Status != model.StatusCompleted {
					fmt.Fprintf(out, "%s: %s (%s)\n", filepath.Base(path), view.Status, view.Error)
					continue
				}
				fmt.Fprintf(out, "%s: %d chunks\n", filepath.Base(path), view.ChunkCount)
			}

			result, err := a.RAG.Ask(cmd.Context(), app.AskInput{
				OwnerID: localOwnerID,
				Query:   args[0],
				TopK:    topK,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "\n%s\n\n", result.Answer)
			fmt.Fprintf(out, "model: %s\n", result.Model)
			for _, src := range result.Sources {
				fmt.Fprintf(out, "  - %s #%d (%.3f)\n", src.Filename, src.ChunkIndex, src.Score)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "document to ingest (repeatable)")
	cmd.Flags().IntVar(&topK, "top-k", rag.DefaultTopK, "number of chunks to answer from")
	return cmd
}

func ingestFile(cmd *cobra.Command, svc *app.RAGService, path string, maxBytes int64) (*model.DocumentStatusView, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	submitted, err := svc.Submit(cmd.Context(), app.SubmitInput{
		OwnerID:  localOwnerID,
		Filename: filepath.Base(path),
		Size:     info.Size(),
		Content:  f,
		Policy:   rag.DocumentPolicy(maxBytes),
	})
	if err != nil {
		return nil, err
	}
	return svc.Status(cmd.Context(), localOwnerID, submitted.DocumentID)
}
