package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
	"github.com/keygate/keygate/internal/store"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage operator accounts",
		Long:  "Create and manage the operator accounts that administer Keygate. The first owner account must be created here; admins can then be managed through the API.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserSetPasswordCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		username string
		password string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new operator account",
		Example: `  keygate user create --username root --role owner
  keygate user create --username helpdesk --password secret123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserCreate(username, password, role)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Username (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&role, "role", model.RoleAdmin, "Role: owner, admin, or support")
	cmd.MarkFlagRequired("username")

	return cmd
}

func runUserCreate(username, password, role string) error {
	switch role {
	case model.RoleOwner, model.RoleAdmin, model.RoleSupport:
	default:
		return fmt.Errorf("invalid role %q: must be owner, admin, or support", role)
	}

	if password == "" {
		var err error
		password, err = promptPassword()
		if err != nil {
			return err
		}
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := service.HashPassword(password)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	user := &model.User{Username: username, PasswordHash: hash, Role: role}
	if err := st.CreateUser(context.Background(), user); err != nil {
		if store.IsUniqueViolation(err) {
			return fmt.Errorf("username %q already exists", username)
		}
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("Created %s account %q (id %d)\n", role, username, user.ID)
	return nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all operator accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	users, err := st.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(users)
	}

	if len(users) == 0 {
		fmt.Println("No operator accounts. Use 'keygate user create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-24s %-8s %-10s %s\n", "ID", "USERNAME", "ROLE", "STATUS", "LAST LOGIN")
	for _, u := range users {
		lastLogin := "never"
		if u.LastLoginAt != nil {
			lastLogin = u.LastLoginAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("%-6d %-24s %-8s %-10s %s\n", u.ID, u.Username, u.Role, u.Status, lastLogin)
	}
	return nil
}

// ---------- user set-password ----------

func newUserSetPasswordCmd() *cobra.Command {
	var (
		username string
		password string
	)

	cmd := &cobra.Command{
		Use:   "set-password",
		Short: "Reset an operator's password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserSetPassword(username, password)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Username (required)")
	cmd.Flags().StringVar(&password, "password", "", "New password (prompted if omitted)")
	cmd.MarkFlagRequired("username")

	return cmd
}

func runUserSetPassword(username, password string) error {
	if password == "" {
		var err error
		password, err = promptPassword()
		if err != nil {
			return err
		}
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	user, err := st.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("user %q not found", username)
	}

	hash, err := service.HashPassword(password)
	if err != nil {
		return err
	}
	if err := st.SetUserPassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("set password: %w", err)
	}

	fmt.Printf("Password updated for %q\n", username)
	return nil
}
