package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/classroom-attendance/internal/config"
	"github.com/kozaktomas/classroom-attendance/internal/roster"
)

var studentCmd = &cobra.Command{
	Use:   "student",
	Short: "Manage the student roster",
}

var studentAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Enrol a student from a face photo",
	Long: `Enrol a student. The reference embedding is computed from the clearest face
in --photo; enrolment fails when no face is found or when the roll number or
name is already taken.

Example:
  attendance student add --roll 21CS042 --name "Meera Nair" --specialization AI \
    --department CSE --section A --batch 2024 --phone +919812345678 --photo meera.jpg`,
	RunE: runStudentAdd,
}

var studentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled students",
	RunE:  runStudentList,
}

var studentDeleteCmd = &cobra.Command{
	Use:   "delete <roll>",
	Short: "Remove a student; attendance records are kept",
	Args:  cobra.ExactArgs(1),
	RunE:  runStudentDelete,
}

func init() {
	rootCmd.AddCommand(studentCmd)
	studentCmd.AddCommand(studentAddCmd, studentListCmd, studentDeleteCmd)

	for _, name := range []string{"roll", "name", "specialization", "department", "section", "batch", "phone", "photo"} {
		studentAddCmd.Flags().String(name, "", "Student "+name)
		_ = studentAddCmd.MarkFlagRequired(name)
	}
	studentListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runStudentAdd(cmd *cobra.Command, args []string) error {
	photo, err := os.ReadFile(mustGetString(cmd, "photo"))
	if err != nil {
		return fmt.Errorf("reading photo: %w", err)
	}

	ctx := context.Background()
	a, err := newApp(ctx, config.Load(), false)
	if err != nil {
		return err
	}
	defer closeStore()

	st, err := a.roster.Create(ctx, roster.Input{
		Roll:           mustGetString(cmd, "roll"),
		Name:           mustGetString(cmd, "name"),
		Specialization: mustGetString(cmd, "specialization"),
		Department:     mustGetString(cmd, "department"),
		Section:        mustGetString(cmd, "section"),
		Batch:          mustGetString(cmd, "batch"),
		Phone:          mustGetString(cmd, "phone"),
	}, photo)
	if err != nil {
		var ve *roster.ValidationError
		if errors.As(err, &ve) {
			for field, rule := range ve.Fields {
				fmt.Printf("  %s: %s\n", field, rule)
			}
		}
		return err
	}
	fmt.Printf("Enrolled %s (%s), %s %s section %s batch %s\n",
		st.Name, st.Roll, st.Cohort.Department, st.Cohort.Specialization, st.Cohort.Section, st.Cohort.Batch)
	return nil
}

func runStudentList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, config.Load(), false)
	if err != nil {
		return err
	}
	defer closeStore()

	students, err := a.roster.List(ctx)
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(students)
	}
	if len(students) == 0 {
		fmt.Println("No students enrolled")
		return nil
	}
	fmt.Printf("%-12s %-28s %-8s %-8s %-8s %-6s %s\n", "ROLL", "NAME", "DEPT", "SPEC", "SECTION", "BATCH", "PHONE")
	for _, st := range students {
		fmt.Printf("%-12s %-28s %-8s %-8s %-8s %-6s %s\n",
			st.Roll, st.Name, st.Cohort.Department, st.Cohort.Specialization, st.Cohort.Section, st.Cohort.Batch, st.Phone)
	}
	fmt.Printf("\n%d students\n", len(students))
	return nil
}

func runStudentDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx, config.Load(), false)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := a.roster.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted student %s\n", args[0])
	return nil
}
