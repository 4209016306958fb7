package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show your counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Stats")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("Tasks:       %d (todo %d, in progress %d, completed %d)\n", st.TotalTasks, st.Todo, st.InProgress, st.Completed)
		fmt.Printf("Archived:    %d\n", st.Archived)
		fmt.Printf("Favorite:    %d\n", st.Favorite)
		fmt.Printf("Storage:     %d chunk(s)\n", st.TotalStorage)
		fmt.Printf("Boxes:       %d\n", st.Boxes)
		fmt.Printf("Submissions: %d\n", st.Submissions)
		return nil
	},
}

var statsVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute counters from live records and report drift",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("VerifyStats")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.VerifyStats(); err != nil {
			return err
		}
		fmt.Println("Counters match live records.")
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("GetHistory")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if !op.FinishedAt.IsZero() {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-15s  %s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
			)
		}
		return nil
	},
}

func init() {
	statsCmd.AddCommand(statsVerifyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
