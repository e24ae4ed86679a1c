package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/foxzi/certly/internal/archive"
	"github.com/foxzi/certly/internal/element"
)

var (
	exportOutput   string
	importCourseID int64
	importMappings []string
	importMapFile  string
)

var exportCmd = &cobra.Command{
	Use:   "export <template-id>...",
	Short: "Export templates to a portable archive",
	Args:  minimumArgs(1),
	RunE:  runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import templates from a portable archive",
	Long: `Import templates from a portable archive. Ids of the source site that
elements refer to are mapped with --map kind:old=new, where kind is module,
grade, user or course. Longer mappings can be kept in a YAML file keyed by
kind and given with --map-file.

Example:
  certly import templates.zip --course 12 --map module:4=40 --map grade:7=70`,
	Args: exactArgs(1),
	RunE: runImport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output archive file (required)")
	exportCmd.MarkFlagRequired("output")

	importCmd.Flags().Int64Var(&importCourseID, "course", 0, "Course to import into (default: site level)")
	importCmd.Flags().StringArrayVar(&importMappings, "map", nil, "Id mapping kind:old=new (repeatable)")
	importCmd.Flags().StringVar(&importMapFile, "map-file", "", "YAML file of id mappings by kind")

	rootCmd.AddCommand(exportCmd, importCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if dir := filepath.Dir(exportOutput); dir != "." {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return usagef("output directory %s does not exist", dir)
		}
	}

	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	var buf bytes.Buffer
	rep, err := services.Archiver.Export(cmd.Context(), args, &buf)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	if err := os.WriteFile(exportOutput, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportOutput, err)
	}

	fmt.Printf("Exported %d templates, %d elements, %d files to %s\n", rep.Templates, rep.Elements, rep.Files, exportOutput)
	printSkipped(rep.Skipped)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	if importCourseID < 0 {
		return usagef("--course must not be negative")
	}
	rc := element.NewRestoreContext(importCourseID)
	if importMapFile != "" {
		if _, err := os.Stat(importMapFile); err != nil {
			return usagef("mapping file %s: %w", importMapFile, err)
		}
		if err := archive.LoadMappingFile(rc, importMapFile); err != nil {
			return usagef("%w", err)
		}
	}
	for _, m := range importMappings {
		if err := archive.ParseMapping(rc, m); err != nil {
			return usagef("%w", err)
		}
	}

	info, err := os.Stat(args[0])
	if err != nil {
		return usagef("archive %s: %w", args[0], err)
	}
	if info.IsDir() {
		return usagef("archive %s is a directory", args[0])
	}

	services, cfg, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	if cfg.Archive.MaxSize > 0 && info.Size() > cfg.Archive.MaxSize {
		return fmt.Errorf("archive is %d bytes, larger than archive.max_size %d", info.Size(), cfg.Archive.MaxSize)
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	rep, err := services.Archiver.Import(cmd.Context(), f, info.Size(), archive.ImportOptions{
		CourseID: importCourseID,
		Restore:  rc,
	})
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("Imported %d templates with %d elements\n", len(rep.Templates), rep.Imported)
	for _, id := range rep.Templates {
		fmt.Printf("  %s\n", id)
	}
	if rep.Restored > 0 {
		fmt.Printf("Remapped references in %d elements\n", rep.Restored)
	}
	printSkipped(rep.Skipped)
	return nil
}

func printSkipped(skipped []archive.Skipped) {
	if len(skipped) == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "Skipped %d elements:\n", len(skipped))
	for _, s := range skipped {
		fmt.Fprintf(os.Stderr, "  %s / page %d / %s (%s): %s\n", s.Template, s.Page, s.Element, s.Type, s.Reason)
	}
}
