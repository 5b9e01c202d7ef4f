package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"scanocr/internal/imaging"
	"scanocr/internal/logger"
	"scanocr/internal/pipeline"
)

var preprocessCmd = &cobra.Command{
	Use:   "preprocess [page-image]",
	Short: "Run image normalization and save every stage as PNG",
	Long: `Normalize one page exactly like the ocr command does and write the image
after each applied stage (crop, grayscale, upscale, contrast, smooth,
binarize, morphology, borders, deskew, polarity) for visual inspection.`,
	Example: `  # Inspect the Bangla preset on a page
  scanocr preprocess --script bangla -d debug/ page.png

  # Try a tighter crop on a noisy scan
  scanocr preprocess --aggressive --crop 8,8,4,4 page.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runPreprocess,
}

func init() {
	rootCmd.AddCommand(preprocessCmd)

	preprocessCmd.Flags().StringP("script", "s", "english", "Script of the page: english, bangla or mixed")
	preprocessCmd.Flags().StringP("out-dir", "d", "preprocessed", "Directory for the stage images")
	preprocessCmd.Flags().Int("dpi", 0, "Source resolution of the scan when known")
	preprocessCmd.Flags().String("crop", "", "Margin crop percents top,bottom,left,right")
	preprocessCmd.Flags().Bool("aggressive", false, "Use the heavy preset for noisy scans")
}

func runPreprocess(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("preprocess")

	scriptFlag, _ := cmd.Flags().GetString("script")
	outDir, _ := cmd.Flags().GetString("out-dir")
	dpi, _ := cmd.Flags().GetInt("dpi")
	crop, _ := cmd.Flags().GetString("crop")
	aggressive, _ := cmd.Flags().GetBool("aggressive")

	var defaultCrop *imaging.Margins
	if cfg, err := loadConfig(); err == nil {
		defaultCrop, _ = cfg.Margins()
	}
	preprocess, err := preprocessFor(scriptFlag, aggressive, crop, defaultCrop)
	if err != nil {
		return fmt.Errorf("invalid preprocessing settings: %w", err)
	}

	pages, err := loadPages(args[:1], dpi)
	if err != nil {
		return handleOCRError(err, log)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	step := 0
	var writeErr error
	save := func(name string, page *imaging.PageImage) {
		if writeErr != nil {
			return
		}
		path := filepath.Join(outDir, fmt.Sprintf("%s-%02d-%s.png", base, step, name))
		step++
		writeErr = writePNG(path, page)
		if writeErr == nil {
			fmt.Printf("%-12s %4dx%-4d %s\n", name, page.Width(), page.Height(), path)
		}
	}

	log.Info().Str("config", preprocess.Describe()).Str("file", args[0]).Msg("Normalizing page")

	save("original", pages[0])
	result, err := imaging.NormalizeTrace(pages[0], preprocess, func(stage imaging.Stage, page *imaging.PageImage) {
		save(string(stage), page)
	})
	if err != nil {
		return handleOCRError(err, log)
	}
	if writeErr != nil {
		return fmt.Errorf("failed to write stage image: %w", writeErr)
	}

	fmt.Printf("foreground ratio %.4f", imaging.ForegroundRatio(result))
	if imaging.IsBlank(result, pipeline.DefaultBlankRatio) {
		fmt.Print(" (blank)")
	}
	fmt.Println()
	return nil
}

func writePNG(path string, page *imaging.PageImage) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := page.EncodePNG(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
