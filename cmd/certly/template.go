package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/element"
)

var (
	templateName     string
	templateCourseID int64
	templateSearch   string
	templateJSON     bool
	renderOutput     string
	renderUserID     int64
	renderCourseID   int64
	pageWidth        float64
	pageHeight       float64
	pageMargin       float64
)

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Template management commands",
}

var templateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List templates",
	Args:  exactArgs(0),
	RunE:  runTemplateList,
}

var templateShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show template pages and elements",
	Args:  exactArgs(1),
	RunE:  runTemplateShow,
}

var templateCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an empty template with one A4 page",
	Args:  exactArgs(0),
	RunE:  runTemplateCreate,
}

var templateDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a template",
	Args:  exactArgs(1),
	RunE:  runTemplateDelete,
}

var templateDuplicateCmd = &cobra.Command{
	Use:   "duplicate <id>",
	Short: "Copy a template with its pages and elements",
	Args:  exactArgs(1),
	RunE:  runTemplateDuplicate,
}

var templateRenderCmd = &cobra.Command{
	Use:   "render <id>",
	Short: "Render a template to PDF",
	Long: `Render a template to PDF. Without --user the document is a preview with
placeholder values.`,
	Args: exactArgs(1),
	RunE: runTemplateRender,
}

var templatePageAddCmd = &cobra.Command{
	Use:   "page-add <id>",
	Short: "Append a page to a template",
	Args:  exactArgs(1),
	RunE:  runTemplatePageAdd,
}

func init() {
	templateListCmd.Flags().Int64Var(&templateCourseID, "course", 0, "Only templates of this course")
	templateListCmd.Flags().StringVar(&templateSearch, "search", "", "Name filter")

	templateShowCmd.Flags().BoolVar(&templateJSON, "json", false, "Print the stored JSON")

	templateCreateCmd.Flags().StringVar(&templateName, "name", "", "Template name (required)")
	templateCreateCmd.Flags().Int64Var(&templateCourseID, "course", 0, "Course of a course-level template")
	templateCreateCmd.MarkFlagRequired("name")

	templateDuplicateCmd.Flags().StringVar(&templateName, "name", "", "Name of the copy")

	templateRenderCmd.Flags().StringVarP(&renderOutput, "output", "o", "", "Output PDF file (required)")
	templateRenderCmd.Flags().Int64Var(&renderUserID, "user", 0, "Learner to render for")
	templateRenderCmd.Flags().Int64Var(&renderCourseID, "course", 0, "Course (default: the template's)")
	templateRenderCmd.MarkFlagRequired("output")

	templatePageAddCmd.Flags().Float64Var(&pageWidth, "width", certificate.DefaultPageWidth, "Page width in mm")
	templatePageAddCmd.Flags().Float64Var(&pageHeight, "height", certificate.DefaultPageHeight, "Page height in mm")
	templatePageAddCmd.Flags().Float64Var(&pageMargin, "margin", 0, "Left and right margin in mm")

	templateCmd.AddCommand(
		templateListCmd,
		templateShowCmd,
		templateCreateCmd,
		templateDeleteCmd,
		templateDuplicateCmd,
		templateRenderCmd,
		templatePageAddCmd,
	)
	rootCmd.AddCommand(templateCmd)
}

func runTemplateList(cmd *cobra.Command, args []string) error {
	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	filter := certificate.ListFilter{Search: templateSearch}
	if templateCourseID > 0 {
		filter.CourseID = &templateCourseID
	}
	templates, err := services.Store.ListTemplates(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}

	if len(templates) == 0 {
		fmt.Println("No templates found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCONTEXT\tPAGES\tVERSION\tUPDATED")
	for _, tmpl := range templates {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			tmpl.ID,
			tmpl.Name,
			contextLabel(tmpl),
			len(tmpl.Pages),
			tmpl.Version,
			tmpl.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d templates\n", len(templates))
	return nil
}

func contextLabel(t *certificate.Template) string {
	if t.ContextLevel == certificate.ContextCourse {
		return fmt.Sprintf("course %d", t.CourseID)
	}
	return t.ContextLevel
}

func runTemplateShow(cmd *cobra.Command, args []string) error {
	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	tmpl, err := services.Store.GetTemplate(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get template: %w", err)
	}

	if templateJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tmpl)
	}

	fmt.Printf("ID:       %s\n", tmpl.ID)
	fmt.Printf("Name:     %s\n", tmpl.Name)
	fmt.Printf("Context:  %s\n", contextLabel(tmpl))
	fmt.Printf("Version:  %d\n", tmpl.Version)
	fmt.Printf("Updated:  %s\n", tmpl.UpdatedAt.Format("2006-01-02 15:04:05"))

	for _, p := range tmpl.OrderedPages() {
		fmt.Printf("\nPage %d (%s) %gx%g mm, margins %g/%g\n", p.Sequence, p.ID, p.Width, p.Height, p.LeftMargin, p.RightMargin)
		if len(p.Elements) == 0 {
			fmt.Println("  (no elements)")
			continue
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  #\tID\tTYPE\tNAME\tPOSITION")
		for _, e := range p.OrderedElements() {
			fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%g,%g\n", e.Sequence, e.ID, e.Type, e.Name, e.PosX, e.PosY)
		}
		w.Flush()
	}
	return nil
}

func runTemplateCreate(cmd *cobra.Command, args []string) error {
	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	tmpl := &certificate.Template{
		Name:  templateName,
		Pages: []*certificate.Page{certificate.NewPage()},
	}
	if templateCourseID > 0 {
		tmpl.ContextLevel = certificate.ContextCourse
		tmpl.CourseID = templateCourseID
	}
	if err := services.Store.CreateTemplate(cmd.Context(), tmpl); err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}

	fmt.Printf("Template created: %s\n", tmpl.ID)
	fmt.Printf("First page: %s\n", tmpl.Pages[0].ID)
	return nil
}

func runTemplateDelete(cmd *cobra.Command, args []string) error {
	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	if err := services.Store.DeleteTemplate(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}

	fmt.Printf("Template %s deleted\n", args[0])
	return nil
}

func runTemplateDuplicate(cmd *cobra.Command, args []string) error {
	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	copied, err := services.Store.DuplicateTemplate(cmd.Context(), args[0], templateName)
	if err != nil {
		return fmt.Errorf("failed to duplicate template: %w", err)
	}

	fmt.Printf("Template copied: %s (%s)\n", copied.ID, copied.Name)
	return nil
}

func runTemplateRender(cmd *cobra.Command, args []string) error {
	if dir := filepath.Dir(renderOutput); dir != "." {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return usagef("output directory %s does not exist", dir)
		}
	}

	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()
	ctx := cmd.Context()

	tmpl, err := services.Store.GetTemplate(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get template: %w", err)
	}

	var subject element.Subject
	if renderUserID > 0 {
		if subject.User, err = services.Directory.User(ctx, renderUserID); err != nil {
			return fmt.Errorf("failed to look up user %d: %w", renderUserID, err)
		}
	}
	courseID := renderCourseID
	if courseID == 0 {
		courseID = tmpl.CourseID
	}
	if courseID > 0 {
		if subject.Course, err = services.Directory.Course(ctx, courseID); err != nil {
			return fmt.Errorf("failed to look up course %d: %w", courseID, err)
		}
	}

	var buf bytes.Buffer
	rep, err := services.Renderer.PDF(ctx, tmpl, subject, subject.User == nil, &buf)
	if err != nil {
		return fmt.Errorf("failed to render template: %w", err)
	}
	if err := os.WriteFile(renderOutput, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", renderOutput, err)
	}

	fmt.Printf("Rendered %d pages, %d elements to %s\n", rep.Pages, rep.Elements, renderOutput)
	for _, f := range rep.Failures {
		fmt.Fprintf(os.Stderr, "  element %s (%s) on page %s: %v\n", f.ElementID, f.Type, f.PageID, f.Err)
	}
	return nil
}

func runTemplatePageAdd(cmd *cobra.Command, args []string) error {
	if pageWidth <= 0 || pageHeight <= 0 || pageMargin < 0 || 2*pageMargin >= pageWidth {
		return usagef("page size %gx%g with margin %g is not usable", pageWidth, pageHeight, pageMargin)
	}

	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	page, err := services.Store.AddPage(cmd.Context(), args[0], &certificate.Page{
		Width:       pageWidth,
		Height:      pageHeight,
		LeftMargin:  pageMargin,
		RightMargin: pageMargin,
	})
	if err != nil {
		return fmt.Errorf("failed to add page: %w", err)
	}

	fmt.Printf("Page %d added: %s\n", page.Sequence, page.ID)
	return nil
}
