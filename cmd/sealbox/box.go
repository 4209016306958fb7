package main

import (
	"fmt"
	"os"

	"sealbox/internal/app"
	"sealbox/internal/sb"

	"github.com/spf13/cobra"
)

var boxCmd = &cobra.Command{
	Use:   "box",
	Short: "Manage feedback boxes",
}

var boxCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a feedback box",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		ratings, _ := cmd.Flags().GetBool("ratings")

		a, err := newApp("CreateBox")
		if err != nil {
			return err
		}
		defer a.Close()

		b, err := a.CreateBox(args[0], description, ratings)
		if err != nil {
			return fmt.Errorf("creating box: %w", err)
		}
		fmt.Printf("Created box %s#%d\n", b.Owner, b.Ref.ID)
		return nil
	},
}

var boxUpdateCmd = &cobra.Command{
	Use:   "update ID NAME",
	Short: "Rename a box and change its description or rating policy",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var description *string
		if cmd.Flags().Changed("description") {
			d, _ := cmd.Flags().GetString("description")
			description = &d
		}
		var ratings *bool
		if cmd.Flags().Changed("ratings") {
			r, _ := cmd.Flags().GetBool("ratings")
			ratings = &r
		}

		a, err := newApp("UpdateBox")
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.UpdateBox(args[0], args[1], description, ratings); err != nil {
			return fmt.Errorf("updating box: %w", err)
		}
		fmt.Printf("Updated box %s\n", args[0])
		return nil
	},
}

// boxActiveCmd builds open/close.
func boxActiveCmd(use string, active bool) *cobra.Command {
	short := "Close a box to new submissions"
	if active {
		short = "Open a box for submissions"
	}
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("SetBoxActive")
			if err != nil {
				return err
			}
			defer a.Close()

			b, err := a.SetBoxActive(args[0], active)
			if err != nil {
				return fmt.Errorf("updating box: %w", err)
			}
			printBox(b)
			return nil
		},
	}
}

var boxRmCmd = &cobra.Command{
	Use:   "rm ID",
	Short: "Delete a box and its submissions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("DeleteBox")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteBox(args[0]); err != nil {
			return fmt.Errorf("deleting box: %w", err)
		}
		fmt.Printf("Deleted box %s\n", args[0])
		return nil
	},
}

func printBox(b *sb.Box) {
	state := "open"
	if !b.Active {
		state = "closed"
	}
	ratings := ""
	if b.AllowRatings {
		ratings = "  ratings"
	}
	fmt.Printf("%-4d %-6s %4d  %s%s\n", b.Ref.ID, state, b.Submissions, b.Name, ratings)
}

var boxLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List your boxes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListBoxes")
		if err != nil {
			return err
		}
		defer a.Close()

		boxes, err := a.ListBoxes()
		if err != nil {
			return err
		}
		if len(boxes) == 0 {
			fmt.Println("No boxes.")
			return nil
		}
		for _, b := range boxes {
			printBox(b)
		}
		return nil
	},
}

var boxShowCmd = &cobra.Command{
	Use:   "show OWNER#ID",
	Short: "Show a box",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("GetBox")
		if err != nil {
			return err
		}
		defer a.Close()

		b, err := a.GetBox(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Box:         %s\n", b.Ref)
		fmt.Printf("Name:        %s\n", b.Name)
		fmt.Printf("Description: %s\n", b.Description)
		fmt.Printf("Open:        %t\n", b.Active)
		fmt.Printf("Ratings:     %t\n", b.AllowRatings)
		return nil
	},
}

var boxStatsCmd = &cobra.Command{
	Use:   "stats ID",
	Short: "Show aggregate feedback stats for a box",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("BoxStats")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.BoxStats(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Submissions: %d\n", st.TotalSubmissions)
		fmt.Printf("Unread:      %d\n", st.UnreadCount)
		fmt.Printf("Rated:       %d\n", st.RatedCount)
		fmt.Printf("Avg rating:  %d.%02d\n", st.AvgRating/100, st.AvgRating%100)
		fmt.Printf("Sentiment:   +%d  =%d  -%d\n", st.PositiveCount, st.NeutralCount, st.NegativeCount)
		return nil
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Submit and read anonymous feedback",
}

var feedbackSubmitCmd = &cobra.Command{
	Use:   "submit OWNER#BOX",
	Short: "Submit feedback to a box",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rating, _ := cmd.Flags().GetUint8("rating")
		sentiment, _ := cmd.Flags().GetString("sentiment")
		content, err := readContent(cmd)
		if err != nil {
			return err
		}

		a, err := newApp("SubmitFeedback")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.SubmitFeedback(args[0], content, app.FeedbackInput{Rating: rating, Sentiment: sentiment})
		if err != nil {
			return fmt.Errorf("submitting feedback: %w", err)
		}
		fmt.Printf("Submitted feedback %d\n", r.ID)
		return nil
	},
}

var feedbackLsCmd = &cobra.Command{
	Use:   "ls BOX",
	Short: "List submissions in one of your boxes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListFeedback")
		if err != nil {
			return err
		}
		defer a.Close()

		rs, err := a.ListFeedback(args[0])
		if err != nil {
			return err
		}
		if len(rs) == 0 {
			fmt.Println("No feedback.")
			return nil
		}
		for _, r := range rs {
			fmt.Printf("%-4d %-6s %-8s %d  %s\n", r.ID, r.Status, r.Fields.Sentiment, r.Fields.Rating, r.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var feedbackReadCmd = &cobra.Command{
	Use:   "read BOX ID",
	Short: "Decrypt a submission and mark it read",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ReadFeedback")
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		if _, err := a.ReadFeedback(args[0], args[1], pass, os.Stdout); err != nil {
			return fmt.Errorf("reading feedback: %w", err)
		}
		fmt.Println()
		return nil
	},
}

var feedbackRmCmd = &cobra.Command{
	Use:   "rm BOX ID",
	Short: "Delete a submission",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("DeleteFeedback")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteFeedback(args[0], args[1]); err != nil {
			return fmt.Errorf("deleting feedback: %w", err)
		}
		fmt.Printf("Deleted feedback %s in box %s\n", args[1], args[0])
		return nil
	},
}

var feedbackMineCmd = &cobra.Command{
	Use:   "mine",
	Short: "List the submissions you made",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("MySubmissions")
		if err != nil {
			return err
		}
		defer a.Close()

		rs, err := a.MySubmissions()
		if err != nil {
			return err
		}
		if len(rs) == 0 {
			fmt.Println("No submissions.")
			return nil
		}
		for _, r := range rs {
			box := r.Collection.BoxRef()
			fmt.Printf("%s#%d  %d  %s\n", box.Owner, box.ID, r.ID, r.Status)
		}
		return nil
	},
}

func init() {
	boxCmd.AddCommand(boxCreateCmd)
	boxCreateCmd.Flags().StringP("description", "d", "", "Description")
	boxCreateCmd.Flags().Bool("ratings", false, "Accept 1-5 ratings")

	boxCmd.AddCommand(boxUpdateCmd)
	boxUpdateCmd.Flags().StringP("description", "d", "", "Description (unchanged if omitted)")
	boxUpdateCmd.Flags().Bool("ratings", false, "Accept 1-5 ratings (unchanged if omitted; --ratings=false to stop)")

	boxCmd.AddCommand(boxActiveCmd("open", true))
	boxCmd.AddCommand(boxActiveCmd("close", false))
	boxCmd.AddCommand(boxRmCmd)
	boxCmd.AddCommand(boxLsCmd)
	boxCmd.AddCommand(boxShowCmd)
	boxCmd.AddCommand(boxStatsCmd)

	feedbackCmd.AddCommand(feedbackSubmitCmd)
	addContentFlags(feedbackSubmitCmd)
	feedbackSubmitCmd.Flags().Uint8P("rating", "r", 0, "Rating 1-5 (0 for none)")
	feedbackSubmitCmd.Flags().StringP("sentiment", "s", "", "positive, neutral, or negative")

	feedbackCmd.AddCommand(feedbackLsCmd)
	feedbackCmd.AddCommand(feedbackReadCmd)
	feedbackCmd.AddCommand(feedbackRmCmd)
	feedbackCmd.AddCommand(feedbackMineCmd)
}
