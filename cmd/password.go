package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lzcstory/lzcstory/internal/auth"
)

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Manage the admin password",
}

var passwordStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether an admin password is set",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openApp(false)
		if err != nil {
			return err
		}
		defer rt.Close()

		manager := auth.NewManager(rt.store, rt.cfg.SessionTTL, rt.log)
		defer manager.Close()
		set, err := manager.Status(cmd.Context())
		if err != nil {
			return err
		}
		if set {
			fmt.Fprintln(cmd.OutOrStdout(), "admin password is set")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "admin password is not set")
		}
		return nil
	},
}

var passwordResetCmd = &cobra.Command{
	Use:   "reset [new-password]",
	Short: "Replace the admin password and revoke every session",
	Long:  "Replace the admin password and revoke every session. Without an argument the password is read from the first line of stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd, args)
		if err != nil {
			return err
		}

		rt, err := openApp(false)
		if err != nil {
			return err
		}
		defer rt.Close()

		manager := auth.NewManager(rt.store, rt.cfg.SessionTTL, rt.log)
		defer manager.Close()
		revoked, err := manager.ResetPassword(cmd.Context(), password)
		if err != nil {
			return err
		}
		rt.log.Info("admin password reset from cli", zap.Int64("sessions_revoked", revoked))
		fmt.Fprintf(cmd.OutOrStdout(), "admin password reset, %d session(s) revoked\n", revoked)
		return nil
	},
}

func init() {
	passwordCmd.AddCommand(passwordStatusCmd, passwordResetCmd)
	rootCmd.AddCommand(passwordCmd)
}

func readPassword(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	in := cmd.InOrStdin()
	if in == os.Stdin {
		fmt.Fprint(cmd.ErrOrStderr(), "new admin password: ")
	}
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", errors.New("no password given")
	}
	password := strings.TrimRight(scanner.Text(), "\r")
	if password == "" {
		return "", auth.ErrValidation
	}
	return password, nil
}
