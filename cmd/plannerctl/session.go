package main

import (
	"context"
	"fmt"
	"strconv"

	"family-planner-backend/internal/models"
	"family-planner-backend/internal/services"

	"github.com/spf13/cobra"
)

func sessionArg(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid session ID %q", arg)
	}
	return uint(id), nil
}

func requireFamily() (uint, error) {
	if cliConfig.FamilyID == 0 {
		return 0, fmt.Errorf("no family: pass --family or set family_id in the config file")
	}
	return cliConfig.FamilyID, nil
}

var startCmd = &cobra.Command{
	Use:     "start [participant-id...]",
	Short:   "Start a planning session, or rejoin the open one",
	GroupID: "sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		fam, err := requireFamily()
		if err != nil {
			return err
		}
		participants := make([]uint, 0, len(args))
		for _, a := range args {
			id, err := strconv.ParseUint(a, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid participant ID %q", a)
			}
			participants = append(participants, uint(id))
		}

		var settings *models.Settings
		if cmd.Flags().Changed("duration") || cmd.Flags().Changed("no-autosave") ||
			cmd.Flags().Changed("no-notify") || cmd.Flags().Changed("no-sync") {
			s := models.DefaultSettings()
			s.DurationMinutes, _ = cmd.Flags().GetInt("duration")
			noAutosave, _ := cmd.Flags().GetBool("no-autosave")
			noNotify, _ := cmd.Flags().GetBool("no-notify")
			noSync, _ := cmd.Flags().GetBool("no-sync")
			s.AutoSave, s.Notifications, s.PartnerSync = !noAutosave, !noNotify, !noSync
			settings = &s
		}

		state, err := api.StartSession(context.Background(), fam, participants, settings)
		if err != nil {
			return err
		}
		printState(state)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <session-id>",
	Short:   "Show a session with its progress",
	GroupID: "sessions",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionArg(args[0])
		if err != nil {
			return err
		}
		state, err := api.GetSession(context.Background(), id)
		if err != nil {
			return err
		}
		printState(state)
		return nil
	},
}

var latestCmd = &cobra.Command{
	Use:     "latest",
	Short:   "Show the family's most recent session",
	GroupID: "sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fam, err := requireFamily()
		if err != nil {
			return err
		}
		state, err := api.LatestSession(context.Background(), fam)
		if err != nil {
			return err
		}
		if state == nil {
			if jsonOutput {
				fmt.Println("null")
			} else {
				fmt.Println("No planning sessions yet.")
			}
			return nil
		}
		printState(state)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:     "history",
	Short:   "List the family's past sessions",
	GroupID: "sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fam, err := requireFamily()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		page, err := api.History(context.Background(), fam, limit, offset)
		if err != nil {
			return err
		}
		printHistory(page)
		return nil
	},
}

func lifecycleCmd(use, short string, op func(context.Context, uint) (*services.SessionState, error)) *cobra.Command {
	return &cobra.Command{
		Use:     use + " <session-id>",
		Short:   short,
		GroupID: "sessions",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := sessionArg(args[0])
			if err != nil {
				return err
			}
			state, err := op(context.Background(), id)
			if err != nil {
				return err
			}
			printState(state)
			return nil
		},
	}
}

var (
	pauseCmd = lifecycleCmd("pause", "Pause an active session", func(ctx context.Context, id uint) (*services.SessionState, error) {
		return api.Pause(ctx, id)
	})
	resumeCmd = lifecycleCmd("resume", "Resume a paused session", func(ctx context.Context, id uint) (*services.SessionState, error) {
		return api.Resume(ctx, id)
	})
	cancelCmd = lifecycleCmd("cancel", "Cancel a session", func(ctx context.Context, id uint) (*services.SessionState, error) {
		return api.Cancel(ctx, id)
	})
	completeCmd = lifecycleCmd("complete", "Complete a session and print its report", func(ctx context.Context, id uint) (*services.SessionState, error) {
		return api.Complete(ctx, id, nil)
	})
)

func init() {
	startCmd.Flags().Int("duration", 90, "planned duration in minutes")
	startCmd.Flags().Bool("no-autosave", false, "disable debounced autosave")
	startCmd.Flags().Bool("no-notify", false, "disable Telegram notifications")
	startCmd.Flags().Bool("no-sync", false, "disable live partner sync")

	historyCmd.Flags().Int("limit", 20, "page size (max 100)")
	historyCmd.Flags().Int("offset", 0, "sessions to skip")
}
