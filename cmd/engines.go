package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"scanocr/internal/config"
	"scanocr/internal/ocr"
	"scanocr/internal/pipeline"
	"scanocr/pkg/models"
)

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "Show configured engines and the pass plans",
	Long: `Print the recognition engines that can be constructed from the current
environment and the ordered pass plan used for every script combination.`,
	Example: `  # Show the built-in plans
  scanocr engines

  # Show a custom plan file with the neural pass enabled
  NEURAL_PASS=true scanocr engines --plan plans.yaml`,
	Args: cobra.NoArgs,
	RunE: runEngines,
}

func init() {
	rootCmd.AddCommand(enginesCmd)

	enginesCmd.Flags().String("plan", "", "YAML pass plan file (default: OCR_PLAN_FILE or built-in plans)")
	enginesCmd.Flags().Bool("aggressive", false, "Include the high-accuracy blacklist pass")
}

func runEngines(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	planFile, _ := cmd.Flags().GetString("plan")
	aggressive, _ := cmd.Flags().GetBool("aggressive")

	plans, err := buildPlans(cfg, planFile, aggressive)
	if err != nil {
		return err
	}

	log := zerolog.Nop()
	registry := buildRegistry(cmd.Context(), cfg, plans, log)
	defer registry.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Floor:\t%.1f\n", plans.Floor)
	fmt.Fprintln(w, "Engines:")
	for _, name := range plans.Engines() {
		status := "not configured"
		if registry.Has(name) {
			status = "ready"
		}
		fmt.Fprintf(w, "  %s\t%s\n", name, status)
	}
	for _, plan := range plans.Plans() {
		fmt.Fprintf(w, "\nPlan %s:\n", plan.Scripts)
		for i, p := range plan.Passes {
			flags := ""
			if p.Fallback {
				flags = "fallback"
			}
			if p.TargetScript != "" {
				flags = "only " + string(p.TargetScript)
			}
			fmt.Fprintf(w, "  %d\t%s\t%s\taccept %.0f\t%s\n", i+1, p.Name, p.Config.Describe(), p.AcceptThreshold, flags)
		}
	}
	return w.Flush()
}

func parseScripts(value string) (models.ScriptSet, error) {
	scripts, err := models.ParseScriptSet(value)
	if err != nil {
		return nil, fmt.Errorf("invalid --script %q: %w (use english, bangla or mixed)", value, err)
	}
	return scripts, nil
}

// buildPlans loads the plan file when one is given, otherwise the built-in plans.
func buildPlans(cfg *config.Config, planFile string, aggressive bool) (*pipeline.PlanSet, error) {
	if planFile == "" {
		planFile = cfg.PlanFile
	}
	if planFile != "" {
		return pipeline.LoadPlanFile(planFile, cfg.Tessdata())
	}
	opts := cfg.PlanOptions()
	opts.Aggressive = aggressive
	return pipeline.DefaultPlans(opts)
}

// buildRegistry constructs every engine the plans reference. Engines that
// cannot be constructed are left out; their passes then fail as unavailable
// and escalation continues without them.
func buildRegistry(ctx context.Context, cfg *config.Config, plans *pipeline.PlanSet, log zerolog.Logger) *ocr.Registry {
	registry := ocr.NewRegistry()
	for _, name := range plans.Engines() {
		engine, err := newEngine(ctx, cfg, name)
		if err != nil {
			log.Warn().Err(err).Str("engine", name).Msg("Engine not available, its passes will be skipped")
			continue
		}
		registry.Register(engine)
	}
	return registry
}

func newEngine(ctx context.Context, cfg *config.Config, name string) (ocr.Engine, error) {
	switch name {
	case ocr.EngineTesseract:
		return ocr.NewTesseractEngine(), nil
	case ocr.EngineOpenAI:
		return ocr.NewOpenAIVisionEngine(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	case ocr.EngineVision:
		return ocr.NewGoogleVisionEngine(ctx, cfg.GoogleCredentials())
	case ocr.EngineDocumentAI:
		return ocr.NewDocumentAIEngine(ctx, cfg.DocumentAI(), cfg.GoogleCredentials())
	default:
		return nil, ocr.NewOCRError("newEngine", name, ocr.ErrEngineUnavailable, "unknown engine")
	}
}
