package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/hippocamp/internal/batch"
	"github.com/rcliao/hippocamp/internal/model"
	"github.com/rcliao/hippocamp/internal/progress"
)

func init() {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Run multi-item operations in one transaction",
	}

	create := &cobra.Command{
		Use:   "create FILE...",
		Short: "Create memories from JSON batch files",
		Long: `Create memories from one or more JSON files ("-" reads stdin). Each file holds
either an array of memories or a batch object {"memories": [...], "batch_id": ...}.
Several files run as concurrent batches; the first infrastructure failure cancels the rest.`,
		Args: cobra.MinimumNArgs(1),
		Run:  runBatchCreate,
	}
	create.Flags().Bool("continue-on-error", false, "Skip failing items instead of rolling back the batch")
	create.Flags().String("batch-id", "", "Batch id (single file only)")
	create.Flags().Bool("progress", false, "Print live progress to stderr")

	update := &cobra.Command{
		Use:   "update FILE",
		Short: "Apply partial updates from a JSON file",
		Long:  `The file holds an array of {"id": ..., "patch": {...}} or an object {"updates": [...]}.`,
		Args:  cobra.ExactArgs(1),
		Run:   runBatchUpdate,
	}
	update.Flags().Bool("abort-on-error", false, "Roll back the batch on the first failing update")
	update.Flags().String("batch-id", "", "Batch id")
	update.Flags().Bool("progress", false, "Print live progress to stderr")

	deprecate := &cobra.Command{
		Use:   "deprecate",
		Short: "Deprecate every memory matching the criteria",
		Run:   runBatchDeprecate,
	}
	deprecate.Flags().StringP("project", "p", "", "Project to match")
	deprecate.Flags().StringP("type", "t", "", "Memory type to match")
	deprecate.Flags().String("created-before", "", "Match memories created before this RFC3339 time")
	deprecate.Flags().String("accessed-before", "", "Match memories last accessed before this RFC3339 time")
	deprecate.Flags().StringArray("meta", nil, "Metadata filter key=value (repeatable, JSON values allowed)")
	deprecate.Flags().Bool("include-deprecated", false, "Also match already deprecated memories")
	deprecate.Flags().Int("max-count", 0, "Maximum memories to deprecate (default: policy maximum)")
	deprecate.Flags().Bool("progress", false, "Print live progress to stderr")

	validateCmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Dry-run validation of a create batch",
		Args:  cobra.ExactArgs(1),
		Run:   runBatchValidate,
	}

	batchCmd.AddCommand(create, update, deprecate, validateCmd)
	RootCmd.AddCommand(batchCmd)
}

func runBatchCreate(cmd *cobra.Command, args []string) {
	continueOnError, _ := cmd.Flags().GetBool("continue-on-error")
	batchID, _ := cmd.Flags().GetString("batch-id")
	showProgress, _ := cmd.Flags().GetBool("progress")

	if batchID != "" && len(args) > 1 {
		exitErr("batch create", fmt.Errorf("--batch-id needs exactly one file, got %d", len(args)))
	}

	reqs := make([]batch.CreateRequest, len(args))
	for i, path := range args {
		req, err := readCreateRequest(path)
		if err != nil {
			exitErr("read batch", err)
		}
		req.ContinueOnError = req.ContinueOnError || continueOnError
		req.ReportProgress = req.ReportProgress || showProgress
		if batchID != "" {
			req.BatchID = batchID
		}
		reqs[i] = req
	}

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	ctx, stop := interruptible(cmd)
	defer stop()
	if showProgress {
		defer a.batch.Tracker().Subscribe(printProgress)()
	}

	results := make([]*batch.Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range reqs {
		i := i
		g.Go(func() error {
			res, err := a.batch.CreateBatch(gctx, reqs[i])
			results[i] = res
			if err != nil {
				return fmt.Errorf("%s: %w", args[i], err)
			}
			return nil
		})
	}
	err = g.Wait()

	if len(results) == 1 {
		printJSON(results[0])
	} else {
		printJSON(results)
	}
	if err != nil {
		a.Close()
		exitErr("batch create", err)
	}
	ok := true
	for _, res := range results {
		ok = ok && res.Success
	}
	finish(a, ok)
}

func runBatchUpdate(cmd *cobra.Command, args []string) {
	abortOnError, _ := cmd.Flags().GetBool("abort-on-error")
	batchID, _ := cmd.Flags().GetString("batch-id")
	showProgress, _ := cmd.Flags().GetBool("progress")

	req, err := readUpdateRequest(args[0])
	if err != nil {
		exitErr("read batch", err)
	}
	req.AbortOnError = req.AbortOnError || abortOnError
	req.ReportProgress = req.ReportProgress || showProgress
	if batchID != "" {
		req.BatchID = batchID
	}

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	ctx, stop := interruptible(cmd)
	defer stop()
	if showProgress {
		defer a.batch.Tracker().Subscribe(printProgress)()
	}

	res, err := a.batch.UpdateBatch(ctx, req)
	printJSON(res)
	if err != nil {
		a.Close()
		exitErr("batch update", err)
	}
	finish(a, res.Success)
}

func runBatchDeprecate(cmd *cobra.Command, args []string) {
	project, _ := cmd.Flags().GetString("project")
	typ, _ := cmd.Flags().GetString("type")
	createdBefore, _ := cmd.Flags().GetString("created-before")
	accessedBefore, _ := cmd.Flags().GetString("accessed-before")
	meta, _ := cmd.Flags().GetStringArray("meta")
	includeDeprecated, _ := cmd.Flags().GetBool("include-deprecated")
	maxCount, _ := cmd.Flags().GetInt("max-count")
	showProgress, _ := cmd.Flags().GetBool("progress")

	criteria := batch.DeprecateCriteria{
		Project:           project,
		Type:              model.MemoryType(typ),
		IncludeDeprecated: includeDeprecated,
		MaxCount:          maxCount,
	}
	var err error
	if criteria.CreatedBefore, err = parseTimeFlag(createdBefore); err != nil {
		exitErr("created-before", err)
	}
	if criteria.LastAccessedBefore, err = parseTimeFlag(accessedBefore); err != nil {
		exitErr("accessed-before", err)
	}
	if criteria.Metadata, err = parseMeta(meta); err != nil {
		exitErr("meta", err)
	}

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}
	ctx, stop := interruptible(cmd)
	defer stop()
	if showProgress {
		defer a.batch.Tracker().Subscribe(printProgress)()
	}

	res, err := a.batch.BulkDeprecate(ctx, batch.DeprecateRequest{
		Criteria:       criteria,
		ReportProgress: showProgress,
	})
	printJSON(res)
	if err != nil {
		a.Close()
		exitErr("batch deprecate", err)
	}
	finish(a, res.Success)
}

func runBatchValidate(cmd *cobra.Command, args []string) {
	req, err := readCreateRequest(args[0])
	if err != nil {
		exitErr("read batch", err)
	}

	a, err := openApp(cmd)
	if err != nil {
		exitErr("open", err)
	}

	v := a.batch.ValidateBatch(req)
	printJSON(v)
	finish(a, v.Valid)
}

// interruptible cancels the command context on Ctrl-C.
func interruptible(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

// finish closes the app and exits non-zero when ok is false.
func finish(a *app, ok bool) {
	a.Close()
	exitUnless(ok)
}

func printProgress(info progress.Info) {
	line := fmt.Sprintf("%s %d/%d (%d%%) %s", info.BatchID, info.Processed, info.Total, info.Percentage, info.Status)
	if info.ETA != nil {
		line += fmt.Sprintf(" eta %s", info.ETA.Round(time.Millisecond))
	}
	fmt.Fprintln(os.Stderr, line)
}

func readCreateRequest(path string) (batch.CreateRequest, error) {
	var req batch.CreateRequest
	raw, err := readRaw(path)
	if err != nil {
		return req, err
	}
	if isArray(raw) {
		err = json.Unmarshal(raw, &req.Items)
	} else {
		err = json.Unmarshal(raw, &req)
	}
	if err != nil {
		return req, fmt.Errorf("decode %s: %w", path, err)
	}
	return req, nil
}

func readUpdateRequest(path string) (batch.UpdateRequest, error) {
	var req batch.UpdateRequest
	raw, err := readRaw(path)
	if err != nil {
		return req, err
	}
	if isArray(raw) {
		err = json.Unmarshal(raw, &req.Updates)
	} else {
		err = json.Unmarshal(raw, &req)
	}
	if err != nil {
		return req, fmt.Errorf("decode %s: %w", path, err)
	}
	return req, nil
}

func readRaw(path string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := readJSON(path, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func parseTimeFlag(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseMeta turns key=value pairs into a filter map. Values that parse as
// JSON keep their JSON type; anything else is a string.
func parseMeta(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			val = v
		}
		out[k] = val
	}
	return out, nil
}
