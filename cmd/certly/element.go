package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/element"
	"github.com/foxzi/certly/internal/element/types"
	"github.com/foxzi/certly/internal/form"
)

var (
	elementType   string
	elementName   string
	elementValues []string
)

var elementCmd = &cobra.Command{
	Use:   "element",
	Short: "Element commands",
}

var elementTypesCmd = &cobra.Command{
	Use:   "types [type]",
	Short: "List element types, or the form of one type",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) > 1 {
			return usagef("accepts at most 1 arg, received %d", len(args))
		}
		return nil
	},
	RunE: runElementTypes,
}

var elementAddCmd = &cobra.Command{
	Use:   "add <template-id> <page-id>",
	Short: "Add an element to a page",
	Long: `Add an element to a page. Form values are given as key=value pairs.

Example:
  certly element add <template-id> <page-id> --type text --name Title \
    --set value=Certificate --set posx=20 --set posy=30 --set fontsize=24`,
	Args: exactArgs(2),
	RunE: runElementAdd,
}

var elementDeleteCmd = &cobra.Command{
	Use:   "delete <template-id> <element-id>",
	Short: "Delete an element",
	Args:  exactArgs(2),
	RunE:  runElementDelete,
}

func init() {
	elementAddCmd.Flags().StringVar(&elementType, "type", "", "Element type (required)")
	elementAddCmd.Flags().StringVar(&elementName, "name", "", "Element name")
	elementAddCmd.Flags().StringArrayVar(&elementValues, "set", nil, "Form value as key=value (repeatable)")
	elementAddCmd.MarkFlagRequired("type")

	elementCmd.AddCommand(elementTypesCmd, elementAddCmd, elementDeleteCmd)
	rootCmd.AddCommand(elementCmd)
}

// parseValues turns key=value pairs into form values
func parseValues(pairs []string) (form.Values, error) {
	values := form.Values{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, usagef("value %q: want key=value", pair)
		}
		values[strings.TrimSpace(key)] = value
	}
	return values, nil
}

func runElementTypes(cmd *cobra.Command, args []string) error {
	registry := types.NewRegistry()

	if len(args) == 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tTITLE")
		for _, h := range registry.Handlers() {
			fmt.Fprintf(w, "%s\t%s\n", h.Type(), h.Title())
		}
		return w.Flush()
	}

	h, err := registry.Get(args[0])
	if err != nil {
		return usagef("%w: %s", err, args[0])
	}
	fmt.Printf("%s (%s)\n\n", h.Title(), h.Type())

	// The shared form lists directory-backed options only with a
	// directory; without a config the static form is shown.
	env := &element.Env{}
	if cfgFile != "" {
		services, _, err := openServices()
		if err != nil {
			return err
		}
		defer services.Close()
		env = services.Env
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tTYPE\tLABEL\tDEFAULT\tOPTIONS")
	for _, f := range element.Schema(cmd.Context(), h, env, element.Subject{}) {
		label := f.Label
		if f.Required {
			label += " *"
		}
		opts := make([]string, len(f.Options))
		for i, o := range f.Options {
			opts[i] = o.Value
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", f.Key, f.Type, label, f.Default, strings.Join(opts, ","))
	}
	return w.Flush()
}

func runElementAdd(cmd *cobra.Command, args []string) error {
	values, err := parseValues(elementValues)
	if err != nil {
		return err
	}
	if elementName != "" {
		values["name"] = elementName
	}

	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()
	ctx := cmd.Context()

	h, err := services.Registry.Get(elementType)
	if err != nil {
		return usagef("%w: %s", err, elementType)
	}
	tmpl, err := services.Store.GetTemplate(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get template: %w", err)
	}
	page, err := tmpl.Page(args[1])
	if err != nil {
		return fmt.Errorf("page %s: %w", args[1], err)
	}

	e := &certificate.Element{}
	if err := element.Apply(ctx, h, services.Env, page, e, values); err != nil {
		var fe form.Errors
		if errors.As(err, &fe) {
			printFormErrors(fe)
			return usagef("invalid form values")
		}
		return err
	}
	e, err = services.Store.AddElement(ctx, tmpl.ID, page.ID, e)
	if err != nil {
		return fmt.Errorf("failed to add element: %w", err)
	}

	fmt.Printf("Element added: %s (%s, sequence %d)\n", e.ID, e.Type, e.Sequence)
	return nil
}

func printFormErrors(fe form.Errors) {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", k, fe[k])
	}
}

func runElementDelete(cmd *cobra.Command, args []string) error {
	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	if err := services.Store.DeleteElement(cmd.Context(), args[0], args[1]); err != nil {
		return fmt.Errorf("failed to delete element: %w", err)
	}

	fmt.Printf("Element %s deleted\n", args[1])
	return nil
}
