package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pavelanni/autograde/internal/grading"
	appI18n "github.com/pavelanni/autograde/internal/i18n"
	"github.com/pavelanni/autograde/internal/model"
	"github.com/pavelanni/autograde/internal/store"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage the answer-key library",
	}
	cmd.AddCommand(keysImportCmd(), keysListCmd(), keysExportCmd())
	return cmd
}

func keysImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import answer-key JSON files (name = file base name)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runKeysImport,
	}
	f := cmd.Flags()
	f.String("db", "autograde.db", "SQLite database path")
	f.Bool("lenient-keys", false, "Accept unknown question types and empty keyword lists")
	f.StringP("lang", "l", "en", "Language for the summary message (en, ru)")
	addLogFlags(f)
	return cmd
}

func keysListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored answer keys",
		RunE:  runKeysList,
	}
	f := cmd.Flags()
	f.String("db", "autograde.db", "SQLite database path")
	addLogFlags(f)
	return cmd
}

func keysExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all answer keys as one JSON document",
		RunE:  runKeysExport,
	}
	f := cmd.Flags()
	f.String("db", "autograde.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(f)
	return cmd
}

func runKeysImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	grader := grading.New(grading.WithLenientKeys(v.GetBool("lenient-keys")))
	n, err := importKeyFiles(db, grader, args)
	if err != nil {
		return err
	}
	ctx := appI18n.WithLocalizer(context.Background(), appI18n.NewLocalizer(v.GetString("lang")))
	fmt.Fprintln(cmd.OutOrStdout(), appI18n.Tp(ctx, "KeysImported", n))
	return nil
}

func runKeysList(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	keys, err := db.ListKeys()
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tQUESTIONS\tUPDATED")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", k.Name, k.Questions, k.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func runKeysExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	export, err := db.ExportAllKeys()
	if err != nil {
		return fmt.Errorf("export keys: %w", err)
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	return writeOutput(cmd, v.GetString("output"), data)
}

// writeOutput writes data to path, or to stdout for "" and "-".
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	var w io.Writer
	if path == "" || path == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

// importKeyFiles stores each key file under its base name. Files whose
// content hash matches the last import are skipped. Each key is validated
// before it is stored.
func importKeyFiles(db *store.Store, grader *grading.Grader, paths []string) (int, error) {
	imported := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return imported, fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return imported, fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("key file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Info("key file changed since last import, re-importing", "path", path)
		}

		key, err := readKey(data)
		if err != nil {
			return imported, fmt.Errorf("parse %s: %w", path, err)
		}
		if _, err := grader.Compile(key); err != nil {
			return imported, fmt.Errorf("validate %s: %w", path, err)
		}

		name := keyName(path)
		if err := db.PutKey(name, key); err != nil {
			return imported, fmt.Errorf("store key from %s: %w", path, err)
		}
		if err := db.SetImportedFileHash(path, hash); err != nil {
			return imported, fmt.Errorf("record import for %s: %w", path, err)
		}
		imported++
		slog.Info("imported answer key", "path", path, "name", name, "questions", key.Len())
	}
	return imported, nil
}

func readKey(data []byte) (*model.AnswerKey, error) {
	key := model.NewAnswerKey()
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(key); err != nil {
		return nil, err
	}
	return key, nil
}

func keyName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
