package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"family-planner-backend/internal/client"
	"family-planner-backend/internal/services"

	"github.com/spf13/cobra"
)

var progressCmd = &cobra.Command{
	Use:   "progress <session-id> [<phase> <fraction>]",
	Short: "Show progress, or save one phase's fraction",
	Long: `Without a phase, prints per-phase and overall progress.
With a phase and fraction (0..1), saves that phase. --payload attaches a JSON
document that replaces the phase's stored payload.`,
	GroupID: "planning",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 && len(args) != 3 {
			return fmt.Errorf("expected <session-id> or <session-id> <phase> <fraction>")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionArg(args[0])
		if err != nil {
			return err
		}
		ctx := context.Background()

		if len(args) == 3 {
			fraction, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("invalid fraction %q", args[2])
			}
			update := services.PhaseUpdate{Fraction: fraction}
			if raw, _ := cmd.Flags().GetString("payload"); raw != "" {
				if !json.Valid([]byte(raw)) {
					return fmt.Errorf("--payload is not valid JSON")
				}
				update.Payload = json.RawMessage(raw)
			}
			res, err := api.SaveProgress(ctx, id, map[string]services.PhaseUpdate{args[1]: update})
			if err != nil {
				return err
			}
			if jsonOutput {
				printJSON(res)
				return nil
			}
			fmt.Printf("Saved at %s\n\n", res.LastSaved.Local().Format("15:04:05"))
		}

		view, err := api.GetProgress(ctx, id)
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(view)
			return nil
		}
		printProgress(view.Phases, view.PhaseCursor, view.OverallProgress)
		return nil
	},
}

var phaseCmd = &cobra.Command{
	Use:     "phase <session-id> <phase>",
	Short:   "Move the session to a phase",
	GroupID: "planning",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionArg(args[0])
		if err != nil {
			return err
		}
		cursor, err := api.MovePhase(context.Background(), id, args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(map[string]any{"phase": args[1], "phase_cursor": cursor})
			return nil
		}
		fmt.Printf("Now on %s (cursor %d)\n", args[1], cursor)
		return nil
	},
}

var claimCmd = &cobra.Command{
	Use:     "claim <session-id> <item-type> <item-id>",
	Short:   "Claim a task, event or inbox item",
	GroupID: "planning",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionArg(args[0])
		if err != nil {
			return err
		}
		res, err := api.Claim(context.Background(), id, args[1], args[2])
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(res)
			return nil
		}
		if res.Conflict {
			fmt.Printf("%s %s is already claimed by user %d\n", res.ItemType, res.ItemID, res.ClaimedBy)
			os.Exit(2)
		}
		fmt.Printf("Claimed %s %s\n", res.ItemType, res.ItemID)
		return nil
	},
}

var claimsCmd = &cobra.Command{
	Use:     "claims <session-id>",
	Short:   "List claimed items",
	GroupID: "planning",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionArg(args[0])
		if err != nil {
			return err
		}
		claims, err := api.ListClaims(context.Background(), id)
		if err != nil {
			return err
		}
		printClaims(claims)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:     "watch <session-id>",
	Short:   "Join a session's room and print live activity",
	GroupID: "planning",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionArg(args[0])
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var (
			mu   sync.Mutex
			last string
		)
		opts := client.DefaultOptions()
		opts.OnChange = func(st client.State) {
			line := summarize(st)
			mu.Lock()
			defer mu.Unlock()
			if line == last {
				return
			}
			last = line
			if jsonOutput {
				data, _ := json.Marshal(st)
				fmt.Println(string(data))
				return
			}
			fmt.Printf("%s  %s\n", time.Now().Format("15:04:05"), line)
		}

		ch := client.NewWSChannel(cliConfig.URL, cliConfig.Token, client.DefaultBackoff())
		proxy := client.NewProxy(api, ch, cliConfig.UserID, opts)
		if _, err := proxy.Attach(ctx, id); err != nil {
			return err
		}
		defer proxy.Close(context.Background())

		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := ch.Heartbeat(); err != nil && !ch.Connected() {
					fmt.Fprintln(os.Stderr, "offline, reconnecting...")
				}
			}
		}
	},
}

func summarize(st client.State) string {
	if st.Session == nil {
		return "no session"
	}
	conn := "offline"
	if st.Connected {
		conn = "live"
	}
	if st.Reconnecting {
		conn = "reconnecting"
	}
	return fmt.Sprintf("%s | %s | overall %.0f%% | cursor %d | %d online | %d claims",
		statusLabel(st.Session.Status), conn, st.OverallProgress*100,
		st.Session.PhaseCursor, len(st.Presence), len(st.Claims))
}

func init() {
	progressCmd.Flags().String("payload", "", "JSON payload for the phase")
}
