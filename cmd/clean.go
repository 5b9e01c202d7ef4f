package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"scanocr/internal/textnorm"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [text-file]",
	Short: "Apply script-aware text cleanup to recognized text",
	Long: `Run the text normalizer on already recognized text: glyph confusion
fixes, cross-script noise removal (single-script input only), duplication and
punctuation normalization, and sentence-boundary repair. Reads stdin when no
file is given.`,
	Example: `  echo "T had left, 1 was trying" | scanocr clean
  scanocr clean --script bangla --skip-rules cross-script page.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().StringP("script", "s", "english", "Script of the text: english, bangla or mixed")
	cleanCmd.Flags().String("skip-rules", "", "Rules to skip: confusions,cross-script,duplications,boundaries")
}

func runClean(cmd *cobra.Command, args []string) error {
	scriptFlag, _ := cmd.Flags().GetString("script")
	skipRules, _ := cmd.Flags().GetString("skip-rules")

	scripts, err := parseScripts(scriptFlag)
	if err != nil {
		return err
	}
	opts, err := textnorm.ParseSkipRules(skipRules)
	if err != nil {
		return err
	}
	n, err := textnorm.New(opts)
	if err != nil {
		return fmt.Errorf("failed to load text rules: %w", err)
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open text file: %w", err)
		}
		defer f.Close()
		in = f
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read text: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), n.Clean(string(data), scripts))
	return nil
}
