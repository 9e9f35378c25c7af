package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/hippocamp/internal/embedding"
	"github.com/rcliao/hippocamp/internal/model"
)

func init() {
	embCmd := &cobra.Command{
		Use:   "embedding",
		Short: "Check embedding vectors without storing them",
	}

	check := &cobra.Command{
		Use:   "check FILE",
		Short: "Validate one embedding (a JSON array of numbers)",
		Args:  cobra.ExactArgs(1),
		Run:   runEmbeddingCheck,
	}
	check.Flags().StringP("model", "m", "", "Model config to validate against (default: configured default)")

	consistency := &cobra.Command{
		Use:   "consistency FILE",
		Short: "Validate a JSON array of embeddings share one shape",
		Args:  cobra.ExactArgs(1),
		Run:   runEmbeddingConsistency,
	}
	consistency.Flags().StringP("model", "m", "", "Model config to validate against")

	similarity := &cobra.Command{
		Use:   "similarity FILE_A FILE_B",
		Short: "Cosine similarity of two embeddings",
		Args:  cobra.ExactArgs(2),
		Run:   runEmbeddingSimilarity,
	}

	models := &cobra.Command{
		Use:   "models",
		Short: "List built-in embedding model configs",
		Run: func(cmd *cobra.Command, args []string) {
			printJSON(embedding.BuiltinModels())
		},
	}

	embCmd.AddCommand(check, consistency, similarity, models)
	RootCmd.AddCommand(embCmd)
}

type validationOutput struct {
	Valid  bool                `json:"is_valid"`
	Errors map[string][]string `json:"errors,omitempty"`
}

type similarityOutput struct {
	CosineSimilarity float64 `json:"cosine_similarity"`
	validationOutput
}

func toOutput(res *model.ValidationResult) validationOutput {
	return validationOutput{Valid: res.Valid(), Errors: res.Errors()}
}

func runEmbeddingCheck(cmd *cobra.Command, args []string) {
	modelName, _ := cmd.Flags().GetString("model")

	var vec embedding.Vector
	if err := readJSON(args[0], &vec); err != nil {
		exitErr("read embedding", err)
	}

	a := analyzerFor(cmd)
	out := toOutput(a.ValidateEmbedding(vec, modelName))
	printJSON(out)
	exitUnless(out.Valid)
}

func runEmbeddingConsistency(cmd *cobra.Command, args []string) {
	modelName, _ := cmd.Flags().GetString("model")

	var vecs []embedding.Vector
	if err := readJSON(args[0], &vecs); err != nil {
		exitErr("read embeddings", err)
	}

	a := analyzerFor(cmd)
	out := toOutput(a.ValidateConsistency(vecs, modelName))
	printJSON(out)
	exitUnless(out.Valid)
}

func runEmbeddingSimilarity(cmd *cobra.Command, args []string) {
	var x, y embedding.Vector
	if err := readJSON(args[0], &x); err != nil {
		exitErr("read embedding", err)
	}
	if err := readJSON(args[1], &y); err != nil {
		exitErr("read embedding", err)
	}

	res := analyzerFor(cmd).ValidateSimilarity(x, y)
	out := similarityOutput{CosineSimilarity: res.CosineSimilarity, validationOutput: toOutput(res.ValidationResult)}
	printJSON(out)
	exitUnless(out.Valid)
}

// analyzerFor builds the analyzer from config alone; no store is opened.
func analyzerFor(cmd *cobra.Command) *embedding.Analyzer {
	cfg, err := loadConfig(cmd)
	if err != nil {
		exitErr("load config", err)
	}
	return cfg.Analyzer()
}
