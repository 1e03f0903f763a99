package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"dermassist/internal/rag"
)

func newChunkCommand(load loadAppFunc) *cobra.Command {
	var preview int
	cmd := &cobra.Command{
		Use:   "chunk <file>",
		Short: "Extract a document and print its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()

			text, err := extractFile(cmd, args[0], a.Config.MaxUploadBytes())
			if err != nil {
				return err
			}
			chunks, err := rag.ChunkText(text, a.Config.RAG.ChunkSize, a.Config.RAG.ChunkOverlap)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d chunks (size %d, overlap %d)\n",
				filepath.Base(args[0]), len(chunks), a.Config.RAG.ChunkSize, a.Config.RAG.ChunkOverlap)
			for i, c := range chunks {
				fmt.Fprintf(out, "[%d] %s\n", i, truncate(c, preview))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&preview, "preview", 80, "characters of each chunk to print, 0 for all")
	return cmd
}

func extractFile(cmd *cobra.Command, path string, maxBytes int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	head := make([]byte, 3072)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	mimeType, err := rag.DocumentPolicy(maxBytes).Validate(rag.Upload{
		Filename: filepath.Base(path),
		Size:     info.Size(),
		Head:     head[:n],
	})
	if err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return rag.NewExtractor().Extract(cmd.Context(), f, mimeType)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
