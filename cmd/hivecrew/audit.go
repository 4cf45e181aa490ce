package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hivecrew/hivecrew/internal/state"
)

var (
	auditTaskID string
	auditLimit  int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the archived audit trail",
	Long: `Inspect exceptions and collaboration records archived during
previous runs. The archive lives at .hivecrew/archive.db in the
project directory.`,
}

var auditExceptionsCmd = &cobra.Command{
	Use:   "exceptions",
	Short: "List archived exceptions, newest first",
	RunE:  runAuditExceptions,
}

var auditConversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List archived worker conversations, newest first",
	RunE:  runAuditConversations,
}

func init() {
	auditCmd.PersistentFlags().StringVar(&auditTaskID, "task", "", "Filter by task ID")
	auditCmd.PersistentFlags().IntVar(&auditLimit, "limit", 20, "Maximum rows to show (0 for all)")
	auditCmd.AddCommand(auditExceptionsCmd)
	auditCmd.AddCommand(auditConversationsCmd)
}

func openArchive() (*state.Archive, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	path := state.DefaultPath(cwd)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("no archive at %s; run a task first", path)
	}
	return state.Open(path)
}

func runAuditExceptions(cmd *cobra.Command, args []string) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}
	defer archive.Close()

	rows, err := archive.ListExceptions(auditTaskID, auditLimit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No archived exceptions.")
		return nil
	}

	for _, r := range rows {
		sev := r.Severity
		switch r.Severity {
		case "critical", "high":
			sev = color.RedString(r.Severity)
		case "medium":
			sev = color.YellowString(r.Severity)
		}
		action := r.Action
		if action == "" {
			action = "-"
		}
		fmt.Printf("%s  %s  %-22s %-10s %-10s %s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.ID, r.Type, sev, action, r.Message)
	}
	return nil
}

func runAuditConversations(cmd *cobra.Command, args []string) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}
	defer archive.Close()

	rows, err := archive.ListConversations(auditTaskID, auditLimit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No archived conversations.")
		return nil
	}

	for _, r := range rows {
		fmt.Printf("%s  %s  %-24s %2d msgs  %s\n",
			r.ClosedAt.Local().Format("2006-01-02 15:04:05"),
			r.SessionID,
			strings.Join(r.Participants, ", "),
			r.MessageCount,
			r.Summary)
	}
	return nil
}
