package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func newLoginCmd(a *app) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and print an access token",
		Example: `  consult login --email doctor@clinic.example --password ********
  export CONSULT_TOKEN=<token>`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := a.client()
			resp, err := c.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			me, err := c.Me(cmd.Context())
			if err != nil {
				return fmt.Errorf("load profile: %w", err)
			}

			pterm.Success.Printfln("Signed in as %s (%s)", me.FullName, me.Role)
			if resp.ExpiresAt != "" {
				pterm.Info.Printfln("Token expires at %s", resp.ExpiresAt)
			}
			fmt.Println(c.Token())
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newCreateRoomCmd(a *app) *cobra.Command {
	var consultation string

	cmd := &cobra.Command{
		Use:     "create-room",
		Short:   "Open the call room for a booked consultation",
		Example: `  consult create-room --consultation 6f1c2a0e-4c55-4b55-9d6f-1b4f4a1f8a10`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireToken(); err != nil {
				return err
			}
			id, err := uuid.Parse(consultation)
			if err != nil {
				return fmt.Errorf("invalid consultation id %q", consultation)
			}

			room, err := a.client().CreateRoom(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("create room: %w", err)
			}

			if err := pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
				{"Room", "Consultation", "Status", "Created"},
				{room.Token, room.ConsultationID.String(), room.Status, room.CreatedAt.Local().Format("02 Jan 15:04")},
			}).Render(); err != nil {
				return err
			}
			pterm.Info.Printfln("Join with: consult call --room %s", room.Token)
			return nil
		},
	}

	cmd.Flags().StringVar(&consultation, "consultation", "", "consultation id")
	_ = cmd.MarkFlagRequired("consultation")
	return cmd
}
