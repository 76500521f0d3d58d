package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"family-planner-backend/internal/models"
	"family-planner-backend/internal/services"

	"golang.org/x/term"
)

func useColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func colorize(code, s string) string {
	if !useColor() {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func statusLabel(status string) string {
	switch status {
	case models.SessionStatusActive:
		return colorize("32", status)
	case models.SessionStatusPaused:
		return colorize("33", status)
	case models.SessionStatusCancelled:
		return colorize("31", status)
	}
	return status
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func bar(fraction float64) string {
	const width = 20
	filled := int(fraction*width + 0.5)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func printState(state *services.SessionState) {
	if jsonOutput {
		printJSON(state)
		return
	}
	s := state.Session
	fmt.Printf("Session:     %d\n", s.ID)
	fmt.Printf("Family:      %d\n", s.FamilyID)
	fmt.Printf("Status:      %s\n", statusLabel(s.Status))
	fmt.Printf("Organizer:   %d\n", s.OrganizerID)
	if ids := s.ParticipantIDs(); len(ids) > 0 {
		fmt.Printf("Members:     %v\n", ids)
	}
	fmt.Printf("Started:     %s\n", s.StartTime.Local().Format("2006-01-02 15:04"))
	if s.LastSavedAt != nil {
		fmt.Printf("Last saved:  %s\n", s.LastSavedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if state.Resumed {
		fmt.Println("Resumed:     yes")
	}
	fmt.Println()
	printProgress(state.Progress, s.PhaseCursor, state.OverallProgress)
	if state.Completion != nil {
		c := state.Completion
		fmt.Printf("\nCompleted %d/%d phases (%.0f%%) in %d min\n",
			c.CompletedPhases, c.TotalPhases, c.CompletionRate, c.ActualDurationMinutes)
	}
}

func printProgress(rows []models.PhaseProgress, cursor int, overall float64) {
	byPhase := make(map[string]models.PhaseProgress, len(rows))
	for _, r := range rows {
		byPhase[r.Phase] = r
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\tPHASE\tPROGRESS\t")
	for i, p := range models.Phases {
		marker := " "
		if i == cursor {
			marker = ">"
		}
		f := byPhase[p].Fraction
		fmt.Fprintf(w, "%s\t%s\t%s\t%3.0f%%\n", marker, p, bar(f), f*100)
	}
	w.Flush()
	fmt.Printf("Overall: %.0f%%\n", overall*100)
}

func printHistory(page *services.HistoryPage) {
	if jsonOutput {
		printJSON(page)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tENDED\tORGANIZER")
	for _, s := range page.Sessions {
		ended := "-"
		if s.EndTime != nil {
			ended = s.EndTime.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n",
			s.ID, s.Status, s.StartTime.Local().Format("2006-01-02 15:04"), ended, s.OrganizerID)
	}
	w.Flush()
	fmt.Printf("\n%d of %d sessions\n", len(page.Sessions), page.Total)
}

func printClaims(claims []models.ClaimRecord) {
	if jsonOutput {
		printJSON(claims)
		return
	}
	if len(claims) == 0 {
		fmt.Println("No claims yet.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tITEM\tCLAIMED BY\tAT")
	for _, c := range claims {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ItemType, c.ItemID, c.ClaimedBy, c.ClaimedAt.Local().Format("15:04:05"))
	}
	w.Flush()
}
