package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/autograde/internal/extract"
	"github.com/pavelanni/autograde/internal/grading"
	"github.com/pavelanni/autograde/internal/llm"
	"github.com/pavelanni/autograde/internal/model"
	"github.com/pavelanni/autograde/internal/store"
)

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade FILE...",
		Short: "Grade answer sheets against an answer key",
		Long: "Grade each FILE (plain text, a JSON answer mapping, or an image read by the\n" +
			"configured extractor) and print a JSON array of reports in argument order.",
		Args: cobra.MinimumNArgs(1),
		RunE: runGrade,
	}
	f := cmd.Flags()
	f.String("key", "", "Answer-key JSON file")
	f.String("key-name", "", "Name of a stored answer key")
	f.String("db", "autograde.db", "SQLite database path (for --key-name)")
	f.IntP("concurrency", "c", 4, "Number of files graded in parallel")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addGradingFlags(f)
	addLLMFlags(f)
	addLogFlags(f)
	cmd.MarkFlagsMutuallyExclusive("key", "key-name")
	cmd.MarkFlagsOneRequired("key", "key-name")
	return cmd
}

func similarityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "similarity",
		Short: "Score a free-text answer by semantic similarity to a reference",
		RunE:  runSimilarity,
	}
	f := cmd.Flags()
	f.String("reference", "", "Reference answer text")
	f.String("candidate", "", "Student answer text")
	f.Float64("max-marks", 1, "Marks awarded for a perfect match")
	f.String("question", "", "Question text; when set, feedback is generated")
	addLLMFlags(f)
	addLogFlags(f)
	_ = cmd.MarkFlagRequired("reference")
	return cmd
}

// fileResult is one element of the grade command's output.
type fileResult struct {
	File   string             `json:"file"`
	Report *model.GradeReport `json:"report,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func runGrade(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	key, err := loadGradeKey(v.GetString("key"), v.GetString("key-name"), v.GetString("db"))
	if err != nil {
		return err
	}

	var llmClient *llm.Client
	if v.GetString("extractor") == "llm" {
		if llmClient, err = newLLMClient(v); err != nil {
			return err
		}
	}
	extractor, err := newExtractor(v, llmClient)
	if err != nil {
		return err
	}

	grader := grading.New(grading.WithLenientKeys(v.GetBool("lenient-keys")))
	results, err := gradeFiles(cmd.Context(), grader, key, extractor, args, v.GetInt("concurrency"))
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	return writeOutput(cmd, v.GetString("output"), data)
}

func loadGradeKey(path, name, dbPath string) (*model.AnswerKey, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		key, err := readKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse key %s: %w", path, err)
		}
		return key, nil
	}
	db, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	sk, err := db.GetKey(name)
	if err != nil {
		return nil, err
	}
	return sk.Key, nil
}

// gradeFiles validates the key once, then grades files concurrently.
// Per-file failures are reported in the result; only an invalid key or a
// cancelled context fails the batch.
func gradeFiles(ctx context.Context, grader *grading.Grader, key *model.AnswerKey,
	ex extract.Extractor, files []string, concurrency int) ([]fileResult, error) {
	if key == nil || key.Len() == 0 {
		return nil, fmt.Errorf("%w: answer key is required", grading.ErrInvalidInput)
	}
	ck, err := grader.Compile(key)
	if err != nil {
		return nil, err
	}
	slog.Debug("compiled answer key", "questions", ck.Len(), "max_score", ck.MaxScore())
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]fileResult, len(files))
	g, ctx := errgroup.WithContext(contextOrBackground(ctx))
	g.SetLimit(concurrency)
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = gradeFile(ctx, ck, ex, path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func gradeFile(ctx context.Context, ck *grading.CompiledKey, ex extract.Extractor, path string) fileResult {
	res := fileResult{File: path}
	fail := func(err error) fileResult {
		slog.Warn("grading failed", "file", path, "error", err)
		res.Error = err.Error()
		return res
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fail(err)
	}
	doc, err := extract.NewDocument(path, data)
	if err != nil {
		return fail(err)
	}
	extraction, err := ex.Extract(ctx, doc)
	if err != nil {
		return fail(err)
	}
	answers, err := grading.AnswersFrom(extraction)
	if err != nil {
		return fail(err)
	}

	report := ck.Grade(answers)
	slog.Info("graded file", "file", path, "score", report.Score, "max_score", report.MaxScore)
	res.Report = &report
	return res
}

func runSimilarity(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	maxMarks := v.GetFloat64("max-marks")
	if maxMarks <= 0 {
		return errors.New("max-marks must be positive")
	}
	c, err := newLLMClient(v)
	if err != nil {
		return err
	}
	scorer := newScorer(cmd.Context(), c)

	reference, candidate := v.GetString("reference"), v.GetString("candidate")
	out := struct {
		model.SimilarityResult
		Feedback string `json:"feedback,omitempty"`
	}{SimilarityResult: scorer.Score(cmd.Context(), reference, candidate, maxMarks)}

	if q := v.GetString("question"); q != "" && scorer.Available() {
		fb, err := c.GenerateFeedback(cmd.Context(), llm.FeedbackRequest{
			Question:  q,
			Candidate: candidate,
			Reference: reference,
			MaxMarks:  maxMarks,
			Result:    out.SimilarityResult,
		})
		if err != nil {
			slog.Warn("feedback generation failed", "error", err)
		} else {
			out.Feedback = fb
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	return writeOutput(cmd, "-", data)
}
