package main

import (
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Subset-Matching-Engine/internal/corpus"
	"github.com/spf13/cobra"
)

func newSnapshotCommand(a *app) *cobra.Command {
	var corpusPath, out string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Compile a JSON Lines corpus into a binary snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if corpusPath == "" {
				corpusPath = a.cfg.Input.Corpus
			}
			if corpusPath == "" || out == "" {
				return fmt.Errorf("both --corpus and --out are required")
			}
			header, skipped, err := corpus.Compile(cmd.Context(), corpusPath, out, a.cfg.Server.MaxItems)
			if err != nil {
				return err
			}
			slog.Info("snapshot written",
				"path", out,
				"sets", header.SetCount,
				"items", header.ItemCount,
				"skipped", skipped,
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&corpusPath, "corpus", "", "JSON Lines corpus to compile")
	cmd.Flags().StringVar(&out, "out", "", "snapshot path to write, conventionally ending in .smcs")
	return cmd
}
