package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// readPassphrase prompts on stderr and reads a passphrase without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var coprocessorCmd = &cobra.Command{
	Use:   "coprocessor",
	Short: "Manage the confidential coprocessor",
}

var coprocessorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate coprocessor keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SetupCoprocessor")
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.SetupCoprocessor(pass); err != nil {
			return fmt.Errorf("setting up coprocessor: %w", err)
		}
		fmt.Println("Coprocessor keys generated.")
		return nil
	},
}

var principalCmd = &cobra.Command{
	Use:   "principal",
	Short: "Manage principals",
}

var principalNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Mint a new principal",
	RunE: func(cmd *cobra.Command, args []string) error {
		anonymous, _ := cmd.Flags().GetBool("anonymous")

		a, err := newApp("NewPrincipal")
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println(a.NewPrincipal(anonymous))
		return nil
	},
}

func init() {
	coprocessorCmd.AddCommand(coprocessorInitCmd)

	principalCmd.AddCommand(principalNewCmd)
	principalNewCmd.Flags().Bool("anonymous", false, "Mint an anonymous submitter principal")
}
