package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foxzi/certly/internal/certificate"
	"github.com/foxzi/certly/internal/issuance"
)

var (
	activityName     string
	activityCourseID int64
	activityModuleID int64
	activityTemplate string
	issueUserID      int64
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Certificate activity commands",
}

var activityCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an activity that issues a template",
	Args:  exactArgs(0),
	RunE:  runActivityCreate,
}

var activityDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an activity and its issues",
	Args:  exactArgs(1),
	RunE:  runActivityDelete,
}

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Certificate issue commands",
}

var issueCreateCmd = &cobra.Command{
	Use:   "create <activity-id>",
	Short: "Issue a certificate to a learner",
	Args:  exactArgs(1),
	RunE:  runIssueCreate,
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show an issue",
	Args:  exactArgs(1),
	RunE:  runIssueShow,
}

var issueDeleteCmd = &cobra.Command{
	Use:   "delete <issue-id>",
	Short: "Delete an issue",
	Args:  exactArgs(1),
	RunE:  runIssueDelete,
}

var issueVerifyCmd = &cobra.Command{
	Use:   "verify <code>",
	Short: "Verify a certificate code",
	Args:  exactArgs(1),
	RunE:  runIssueVerify,
}

func init() {
	activityCreateCmd.Flags().StringVar(&activityName, "name", "", "Activity name (required)")
	activityCreateCmd.Flags().Int64Var(&activityCourseID, "course", 0, "Course id (required)")
	activityCreateCmd.Flags().Int64Var(&activityModuleID, "module", 0, "Course module id")
	activityCreateCmd.Flags().StringVar(&activityTemplate, "template", "", "Template id (required)")
	activityCreateCmd.MarkFlagRequired("name")
	activityCreateCmd.MarkFlagRequired("course")
	activityCreateCmd.MarkFlagRequired("template")

	issueCreateCmd.Flags().Int64Var(&issueUserID, "user", 0, "Learner id (required)")
	issueCreateCmd.MarkFlagRequired("user")

	activityCmd.AddCommand(activityCreateCmd, activityDeleteCmd)
	issueCmd.AddCommand(issueCreateCmd, issueShowCmd, issueDeleteCmd, issueVerifyCmd)
	rootCmd.AddCommand(activityCmd, issueCmd)
}

func runActivityCreate(cmd *cobra.Command, args []string) error {
	if activityCourseID <= 0 {
		return usagef("--course must be a positive id")
	}

	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	a := &certificate.Activity{
		Name:           activityName,
		CourseID:       activityCourseID,
		CourseModuleID: activityModuleID,
		TemplateID:     activityTemplate,
	}
	if err := services.Store.CreateActivity(cmd.Context(), a); err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}

	fmt.Printf("Activity created: %s\n", a.ID)
	return nil
}

func runActivityDelete(cmd *cobra.Command, args []string) error {
	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	if err := services.Store.DeleteActivity(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete activity: %w", err)
	}

	fmt.Printf("Activity %s deleted\n", args[0])
	return nil
}

func runIssueCreate(cmd *cobra.Command, args []string) error {
	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	issue, err := services.Issuance.Issue(cmd.Context(), args[0], issueUserID)
	if err != nil {
		return fmt.Errorf("failed to issue certificate: %w", err)
	}

	printIssue(issue)
	return nil
}

func runIssueShow(cmd *cobra.Command, args []string) error {
	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	issue, err := services.Issuance.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get issue: %w", err)
	}

	printIssue(issue)
	return nil
}

func printIssue(issue *certificate.Issue) {
	fmt.Printf("ID:        %s\n", issue.ID)
	fmt.Printf("Activity:  %s\n", issue.ActivityID)
	fmt.Printf("User:      %d\n", issue.UserID)
	fmt.Printf("Code:      %s\n", issue.Code)
	fmt.Printf("Issued:    %s\n", issue.IssuedAt.Format("2006-01-02 15:04:05"))
}

func runIssueDelete(cmd *cobra.Command, args []string) error {
	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	if err := services.Issuance.Delete(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete issue: %w", err)
	}

	fmt.Printf("Issue %s deleted\n", args[0])
	return nil
}

func runIssueVerify(cmd *cobra.Command, args []string) error {
	services, _, err := openServices()
	if err != nil {
		return err
	}
	defer services.Close()

	v, err := services.Issuance.Verify(cmd.Context(), args[0])
	if errors.Is(err, issuance.ErrInvalidCode) {
		return fmt.Errorf("code %s is not valid", issuance.NormaliseCode(args[0]))
	}
	if err != nil {
		return fmt.Errorf("failed to verify code: %w", err)
	}

	fmt.Printf("Code %s is valid\n", v.Code)
	fmt.Printf("  Learner:   %s (%d)\n", v.Learner, v.UserID)
	fmt.Printf("  Activity:  %s\n", v.Activity)
	if v.Course != "" {
		fmt.Printf("  Course:    %s\n", v.Course)
	}
	fmt.Printf("  Issued:    %s\n", v.IssuedAt.Format("2006-01-02"))
	return nil
}
