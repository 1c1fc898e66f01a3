package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"researchhive/internal/fetch"
	"researchhive/internal/types"
)

var indexAsType string

var indexCmd = &cobra.Command{
	Use:   "index <url|path>...",
	Short: "Fetch or read sources and index them into the session",
	Long: `Indexes one or more sources into the current session. URLs are
fetched (with a browser-render fallback for script-heavy pages); local
paths are read directly. Files are indexed as artifacts, .go/.py/.js/
.rs/.ts files as repo code, and markdown as repo docs unless --type
overrides.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexAsType, "type", "", "source type override (web_snapshot, artifact, capture, repo_code, repo_doc)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.openSession()
	if err != nil {
		return err
	}
	ix := a.indexer(st)
	snapshotter := a.snapshotter()
	ctx := cmd.Context()

	for _, target := range args {
		var snap *fetch.Snapshot
		srcType := types.SourceType(indexAsType)

		if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
			snap, err = snapshotter.Fetch(ctx, target)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", target, err)
			}
			if srcType == "" {
				srcType = types.SourceWebSnapshot
			}
		} else {
			data, err := os.ReadFile(target)
			if err != nil {
				return err
			}
			sum := sha256.Sum256(data)
			snap = &fetch.Snapshot{
				URL:         target,
				Title:       filepath.Base(target),
				Text:        string(data),
				ContentHash: hex.EncodeToString(sum[:]),
				FetchedUTC:  types.NowUTC(),
			}
			if srcType == "" {
				srcType = guessFileType(target)
			}
		}

		src, chunks, err := ix.IndexSnapshot(ctx, a.sessID, snap, srcType)
		if err != nil {
			return fmt.Errorf("index %s: %w", target, err)
		}
		if chunks == 0 {
			fmt.Printf("%s: already indexed as %s\n", target, src.ID)
			continue
		}
		fmt.Printf("%s: source %s, %d chunks\n", target, src.ID, chunks)
	}
	return nil
}

func guessFileType(path string) types.SourceType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go", ".py", ".js", ".ts", ".rs", ".c", ".h", ".java":
		return types.SourceRepoCode
	case ".md", ".rst", ".txt":
		return types.SourceRepoDoc
	case ".png", ".jpg", ".jpeg":
		return types.SourceCapture
	default:
		return types.SourceArtifact
	}
}
