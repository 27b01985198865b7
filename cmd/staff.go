package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/classroom-attendance/internal/config"
	"github.com/kozaktomas/classroom-attendance/internal/database"
)

var staffCmd = &cobra.Command{
	Use:   "staff",
	Short: "Manage staff members and their cohorts",
}

var staffAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or update a staff member",
	Long: `Add a staff member, or update an existing one with the same email. Staff see
attendance only for their own cohort; the API identifies them by the
X-Staff-Email header.`,
	RunE: runStaffAdd,
}

func init() {
	rootCmd.AddCommand(staffCmd)
	staffCmd.AddCommand(staffAddCmd)

	for _, name := range []string{"email", "name", "specialization", "department", "section", "batch"} {
		staffAddCmd.Flags().String(name, "", "Staff "+name)
		_ = staffAddCmd.MarkFlagRequired(name)
	}
}

func runStaffAdd(cmd *cobra.Command, args []string) error {
	st := database.Staff{
		Email: strings.ToLower(strings.TrimSpace(mustGetString(cmd, "email"))),
		Name:  strings.TrimSpace(mustGetString(cmd, "name")),
		Cohort: database.Cohort{
			Specialization: strings.TrimSpace(mustGetString(cmd, "specialization")),
			Department:     strings.TrimSpace(mustGetString(cmd, "department")),
			Section:        strings.TrimSpace(mustGetString(cmd, "section")),
			Batch:          strings.TrimSpace(mustGetString(cmd, "batch")),
		},
	}
	if !strings.Contains(st.Email, "@") {
		return errors.New("--email must be an email address")
	}

	ctx := context.Background()
	a, err := newApp(ctx, config.Load(), false)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := a.staff.SaveStaff(ctx, st); err != nil {
		return fmt.Errorf("saving staff: %w", err)
	}
	fmt.Printf("Saved staff %s (%s) for %s %s section %s batch %s\n",
		st.Name, st.Email, st.Cohort.Department, st.Cohort.Specialization, st.Cohort.Section, st.Cohort.Batch)
	return nil
}
