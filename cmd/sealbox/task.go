package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"sealbox/internal/app"
	"sealbox/internal/sb"

	"github.com/spf13/cobra"
)

// readContent returns the --content flag, or the file named by --file
// ("-" reads stdin).
func readContent(cmd *cobra.Command) ([]byte, error) {
	content, _ := cmd.Flags().GetString("content")
	file, _ := cmd.Flags().GetString("file")

	switch {
	case content != "" && file != "":
		return nil, fmt.Errorf("--content and --file are mutually exclusive")
	case file == "-":
		return io.ReadAll(os.Stdin)
	case file != "":
		return os.ReadFile(file)
	default:
		return []byte(content), nil
	}
}

func addContentFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("content", "c", "", "Plaintext content")
	cmd.Flags().StringP("file", "f", "", "Read content from file (- for stdin)")
}

func taskInput(cmd *cobra.Command, title string) app.TaskInput {
	category, _ := cmd.Flags().GetString("category")
	tags, _ := cmd.Flags().GetStringSlice("tag")
	color, _ := cmd.Flags().GetString("color")
	priority, _ := cmd.Flags().GetString("priority")
	return app.TaskInput{Title: title, Category: category, Tags: tags, Color: color, Priority: priority}
}

func addTaskFieldFlags(cmd *cobra.Command) {
	cmd.Flags().String("category", "", "Category")
	cmd.Flags().StringSliceP("tag", "t", nil, "Tag (repeatable)")
	cmd.Flags().String("color", "", "Color")
}

func printTask(r *sb.Record) {
	marks := ""
	if r.Favorite {
		marks += "*"
	}
	if r.Archived {
		marks += "a"
	}
	fmt.Printf("%-4d %-11s %-6s %-2s %s", r.ID, r.Status, r.Priority, marks, r.Fields.Title)
	if r.Fields.Category != "" {
		fmt.Printf("  [%s]", r.Fields.Category)
	}
	if len(r.Fields.Tags) > 0 {
		fmt.Printf("  #%s", strings.Join(r.Fields.Tags, " #"))
	}
	fmt.Println()
}

func printTasks(rs []*sb.Record) {
	if len(rs) == 0 {
		fmt.Println("No tasks.")
		return
	}
	for _, r := range rs {
		printTask(r)
	}
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage encrypted tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add TITLE",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readContent(cmd)
		if err != nil {
			return err
		}

		a, err := newApp("CreateTask")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.CreateTask(content, taskInput(cmd, args[0]))
		if err != nil {
			return fmt.Errorf("creating task: %w", err)
		}
		fmt.Printf("Created task %d (%d chunk(s))\n", r.ID, r.ChunkCount())
		return nil
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update ID TITLE",
	Short: "Replace a task's content and fields",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := readContent(cmd)
		if err != nil {
			return err
		}

		a, err := newApp("UpdateTask")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.UpdateTask(args[0], content, taskInput(cmd, args[1]))
		if err != nil {
			return fmt.Errorf("updating task: %w", err)
		}
		fmt.Printf("Updated task %d (%d chunk(s))\n", r.ID, r.ChunkCount())
		return nil
	},
}

var taskStatusCmd = &cobra.Command{
	Use:   "status ID STATUS",
	Short: "Set task status (todo, in_progress, done)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SetStatus")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.SetStatus(args[0], args[1])
		if err != nil {
			return fmt.Errorf("setting status: %w", err)
		}
		printTask(r)
		return nil
	},
}

var taskPriorityCmd = &cobra.Command{
	Use:   "priority ID PRIORITY",
	Short: "Set task priority (low, medium, high)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SetPriority")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.SetPriority(args[0], args[1])
		if err != nil {
			return fmt.Errorf("setting priority: %w", err)
		}
		printTask(r)
		return nil
	},
}

// flagCmd builds the archive/favorite toggles.
func flagCmd(use string, flag sb.Flag) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " ID",
		Short: fmt.Sprintf("Set the %s flag (--off to clear)", flag),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			off, _ := cmd.Flags().GetBool("off")

			a, err := newApp("SetFlag")
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.SetFlag(args[0], flag, !off)
			if err != nil {
				return fmt.Errorf("setting %s: %w", flag, err)
			}
			printTask(r)
			return nil
		},
	}
	cmd.Flags().Bool("off", false, "Clear the flag")
	return cmd
}

var taskRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("DeleteTask")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteTask(args[0]); err != nil {
			return fmt.Errorf("deleting task: %w", err)
		}
		fmt.Printf("Deleted task %s\n", args[0])
		return nil
	},
}

var taskLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		all, _ := cmd.Flags().GetBool("all")
		favorites, _ := cmd.Flags().GetBool("favorites")
		category, _ := cmd.Flags().GetString("category")
		tag, _ := cmd.Flags().GetString("tag")

		a, err := newApp("ListTasks")
		if err != nil {
			return err
		}
		defer a.Close()

		var rs []*sb.Record
		switch {
		case category != "":
			rs, err = a.ListByCategory(category)
		case tag != "":
			rs, err = a.ListByTag(tag)
		default:
			filter := sb.TaskFilter{IncludeArchived: all, FavoritesOnly: favorites}
			if status != "" {
				if filter.Status, err = sb.ParseStatus(status); err != nil {
					return err
				}
			}
			rs, err = a.ListTasks(filter)
		}
		if err != nil {
			return err
		}
		printTasks(rs)
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a task's public fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("GetTask")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.GetTask(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Task:      %s\n", r.Ref())
		fmt.Printf("Title:     %s\n", r.Fields.Title)
		fmt.Printf("Status:    %s\n", r.Status)
		fmt.Printf("Priority:  %s\n", r.Priority)
		fmt.Printf("Category:  %s\n", r.Fields.Category)
		fmt.Printf("Tags:      %s\n", strings.Join(r.Fields.Tags, ", "))
		fmt.Printf("Color:     %s\n", r.Fields.Color)
		fmt.Printf("Chunks:    %d\n", r.ChunkCount())
		fmt.Printf("Created:   %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Updated:   %s\n", r.UpdatedAt.Format("2006-01-02 15:04:05"))
		if !r.CompletedAt.IsZero() {
			fmt.Printf("Completed: %s\n", r.CompletedAt.Format("2006-01-02 15:04:05"))
		}
		if r.Owner == a.Caller() {
			grantees, err := a.Grantees(args[0])
			if err != nil {
				return err
			}
			for _, g := range grantees {
				fmt.Printf("Shared:    %s\n", g)
			}
		}
		return nil
	},
}

var taskRevealCmd = &cobra.Command{
	Use:   "reveal ID",
	Short: "Decrypt a task you own or that was shared with you",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("RevealTask")
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		if _, err := a.RevealTask(args[0], pass, os.Stdout); err != nil {
			return fmt.Errorf("revealing task: %w", err)
		}
		fmt.Println()
		return nil
	},
}

var shareCmd = &cobra.Command{
	Use:   "share ID PRINCIPAL",
	Short: "Grant a principal standing read access to a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ShareTask")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ShareTask(args[0], args[1]); err != nil {
			return fmt.Errorf("sharing task: %w", err)
		}
		fmt.Printf("Shared task %s with %s\n", args[0], args[1])
		return nil
	},
}

var sharedCmd = &cobra.Command{
	Use:   "shared",
	Short: "List tasks shared with you",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SharedWith")
		if err != nil {
			return err
		}
		defer a.Close()

		refs, err := a.SharedWith()
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			fmt.Println("Nothing shared with you.")
			return nil
		}
		for _, ref := range refs {
			fmt.Printf("%s#%d\n", ref.Collection.Owner, ref.ID)
		}
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskAddCmd)
	addContentFlags(taskAddCmd)
	addTaskFieldFlags(taskAddCmd)
	taskAddCmd.Flags().StringP("priority", "p", "", "Priority (low, medium, high)")

	taskCmd.AddCommand(taskUpdateCmd)
	addContentFlags(taskUpdateCmd)
	addTaskFieldFlags(taskUpdateCmd)

	taskCmd.AddCommand(taskStatusCmd)
	taskCmd.AddCommand(taskPriorityCmd)
	taskCmd.AddCommand(flagCmd("archive", sb.FlagArchived))
	taskCmd.AddCommand(flagCmd("favorite", sb.FlagFavorite))
	taskCmd.AddCommand(taskRmCmd)

	taskCmd.AddCommand(taskLsCmd)
	taskLsCmd.Flags().StringP("status", "s", "", "Only tasks with this status")
	taskLsCmd.Flags().BoolP("all", "a", false, "Include archived tasks")
	taskLsCmd.Flags().Bool("favorites", false, "Only favorite tasks")
	taskLsCmd.Flags().String("category", "", "Only tasks in this category")
	taskLsCmd.Flags().String("tag", "", "Only tasks with this tag")

	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskRevealCmd)
}
