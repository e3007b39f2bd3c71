package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

func newLicenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "license",
		Short: "Manage licenses",
		Long:  "Issue and inspect licenses without going through the admin API. Useful for bootstrap and scripting.",
	}

	cmd.AddCommand(newLicenseCreateCmd())
	cmd.AddCommand(newLicenseListCmd())
	cmd.AddCommand(newLicenseBlockCmd())

	return cmd
}

// ---------- license create ----------

func newLicenseCreateCmd() *cobra.Command {
	var (
		maxDevices  int
		lifetime    bool
		expiresIn   string
		packageName string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new license with a generated key",
		Example: `  keygate license create --max-devices 3 --expires-in 8760h
  keygate license create --max-devices 1 --lifetime --package com.example.app`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLicenseCreate(maxDevices, lifetime, expiresIn, packageName)
		},
	}

	cmd.Flags().IntVar(&maxDevices, "max-devices", 1, "Device quota for the license")
	cmd.Flags().BoolVar(&lifetime, "lifetime", false, "Never expires")
	cmd.Flags().StringVar(&expiresIn, "expires-in", "", "Validity period from now (e.g. 8760h for one year)")
	cmd.Flags().StringVar(&packageName, "package", "", "Pin the license to an application package name")

	return cmd
}

func runLicenseCreate(maxDevices int, lifetime bool, expiresIn, packageName string) error {
	if maxDevices <= 0 {
		return fmt.Errorf("--max-devices must be positive")
	}

	lic := &model.License{
		Status:     model.LicenseActive,
		MaxDevices: maxDevices,
		IsLifetime: lifetime,
	}
	if expiresIn != "" {
		d, err := time.ParseDuration(expiresIn)
		if err != nil {
			return fmt.Errorf("invalid --expires-in: %w", err)
		}
		expireAt := time.Now().Add(d).UTC()
		lic.ExpireAt = &expireAt
	}
	if packageName != "" {
		lic.AllowedPackageName = &packageName
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := service.IssueLicense(context.Background(), st, lic); err != nil {
		return fmt.Errorf("issue license: %w", err)
	}

	fmt.Printf("Issued license %s (id %d, max devices %d)\n", lic.LicenseKey, lic.ID, lic.MaxDevices)
	return nil
}

// ---------- license list ----------

func newLicenseListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all licenses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLicenseList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runLicenseList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	licenses, err := st.ListLicenses(context.Background())
	if err != nil {
		return fmt.Errorf("list licenses: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(licenses)
	}

	if len(licenses) == 0 {
		fmt.Println("No licenses. Use 'keygate license create' to issue one.")
		return nil
	}

	fmt.Printf("%-6s %-22s %-8s %-8s %s\n", "ID", "KEY", "STATUS", "DEVICES", "EXPIRES")
	for _, l := range licenses {
		expires := "-"
		switch {
		case l.IsLifetime:
			expires = "lifetime"
		case l.ExpireAt != nil:
			expires = l.ExpireAt.Format("2006-01-02")
		}
		fmt.Printf("%-6d %-22s %-8s %-8d %s\n", l.ID, l.LicenseKey, l.Status, l.MaxDevices, expires)
	}
	return nil
}

// ---------- license block ----------

func newLicenseBlockCmd() *cobra.Command {
	var unblock bool

	cmd := &cobra.Command{
		Use:   "block <license-key>",
		Short: "Block (or unblock) a license",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLicenseBlock(args[0], unblock)
		},
	}

	cmd.Flags().BoolVar(&unblock, "unblock", false, "Re-activate a blocked license")

	return cmd
}

func runLicenseBlock(key string, unblock bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	lic, err := st.GetLicenseByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("license %q not found", key)
	}

	lic.Status = model.LicenseBlocked
	if unblock {
		lic.Status = model.LicenseActive
	}
	if err := st.UpdateLicense(ctx, lic); err != nil {
		return fmt.Errorf("update license: %w", err)
	}

	fmt.Printf("License %s is now %s\n", lic.LicenseKey, lic.Status)
	return nil
}
