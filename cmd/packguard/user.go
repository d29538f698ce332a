package main

import (
	"context"
	"errors"
	"os"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/permission"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage identities",
	}
	cmd.AddCommand(newUserCreateCmd())
	return cmd
}

type userCreateFlags struct {
	email       string
	displayName string
	password    string
	role        string
	twoFactor   bool
}

func newUserCreateCmd() *cobra.Command {
	var flags userCreateFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision an identity in the database",
		Long: `Provision an identity directly in the database. The password may also be
given through PACKGUARD_PASSWORD to keep it out of the shell history.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUserCreate(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.email, "email", "", "e-mail address (required)")
	cmd.Flags().StringVar(&flags.displayName, "name", "", "display name (defaults to the e-mail)")
	cmd.Flags().StringVar(&flags.password, "password", "", "initial password")
	cmd.Flags().StringVar(&flags.role, "role", permission.RoleViewer.String(), "system role: viewer|merchandiser|designer|admin")
	cmd.Flags().BoolVar(&flags.twoFactor, "two-factor", false, "require an e-mailed code at login")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func runUserCreate(cmd *cobra.Command, flags userCreateFlags) error {
	role, err := permission.ParseSystemRole(flags.role)
	if err != nil {
		return oops.Code("INVALID_ARGUMENT").With("flag", "role").Wrap(err)
	}
	if flags.password == "" {
		flags.password = os.Getenv("PACKGUARD_PASSWORD")
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	log, closeLog, err := newLogger(logOptions{Level: "warning", Format: cfg.Logging.Format})
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := cmd.Context()
	d, err := openDeps(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer d.Close()

	engine, err := buildEngine(cfg, d, log, nil)
	if err != nil {
		return err
	}
	defer engine.Close()

	view, err := createUser(ctx, engine, flags, role, log)
	if err != nil {
		return err
	}
	cmd.Printf("Created %s (%s) with role %s\n", view.Email, view.ID, view.Role)
	return nil
}

func createUser(ctx context.Context, engine *packguard.Engine, flags userCreateFlags, role permission.SystemRole, log logrus.FieldLogger) (*packguard.IdentityView, error) {
	view, err := engine.CreateIdentity(ctx, nil, packguard.NewIdentity{
		Email:            flags.email,
		DisplayName:      flags.displayName,
		Password:         flags.password,
		Role:             role,
		TwoFactorEnabled: flags.twoFactor,
	})
	if errors.Is(err, packguard.ErrEmailTaken) {
		return nil, oops.Code("ALREADY_EXISTS").With("email", flags.email).Wrap(err)
	}
	if err != nil {
		return nil, err
	}
	log.WithField("identity_id", view.ID).Debug("identity provisioned")
	return view, nil
}
