package main

import (
	"fmt"

	"crm-service/internal/middleware"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var operatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Manage control-plane operators",
}

var operatorCreateOpts struct {
	Name     string `json:"name" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8"`
}

var operatorCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an operator account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := middleware.NewValidator().Validate(&operatorCreateOpts); err != nil {
			return err
		}

		ctx, a, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := a.migrate(); err != nil {
			return err
		}

		operator, err := a.operators.Create(ctx, operatorCreateOpts.Name, operatorCreateOpts.Email, operatorCreateOpts.Password)
		if err != nil {
			a.log.Error("Failed to create operator", zap.Error(err))
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Operator %s created (id %d)\n", operator.Email, operator.ID)
		return nil
	},
}

func init() {
	f := operatorCreateCmd.Flags()
	f.StringVar(&operatorCreateOpts.Name, "name", "System Operator", "display name")
	f.StringVar(&operatorCreateOpts.Email, "email", "", "login email")
	f.StringVar(&operatorCreateOpts.Password, "password", "", "login password (min 8 characters)")
}
