package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/memgate/internal/session"
	"github.com/scrypster/memgate/internal/storage"
)

func init() {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect client sessions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Run:   runSessionsList,
	}
	listCmd.Flags().String("user", "", "Filter by user id")
	listCmd.Flags().String("registry", "", "Filter by registry entry id")
	listCmd.Flags().Bool("active", false, "Only sessions without an end timestamp")
	listCmd.Flags().IntP("limit", "l", 20, "Max results")
	listCmd.Flags().Int("page", 1, "Page number")

	endCmd := &cobra.Command{
		Use:   "end <token>",
		Short: "Force-close a session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionsEnd,
	}

	sessionsCmd.AddCommand(listCmd, endCmd)
	RootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) {
	userID, _ := cmd.Flags().GetString("user")
	registryID, _ := cmd.Flags().GetString("registry")
	active, _ := cmd.Flags().GetBool("active")
	limit, _ := cmd.Flags().GetInt("limit")
	page, _ := cmd.Flags().GetInt("page")

	store, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	tracker := session.NewTracker(store, time.Minute)
	result, err := tracker.List(cmd.Context(), storage.SessionListOptions{
		Page:       page,
		Limit:      limit,
		RegistryID: registryID,
		UserID:     userID,
		ActiveOnly: active,
	})
	if err != nil {
		exitErr("list sessions", err)
	}
	printJSON(result.Items)
	fmt.Printf("total: %d\n", result.Total)
}

func runSessionsEnd(cmd *cobra.Command, args []string) {
	store, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	tracker := session.NewTracker(store, time.Minute)
	if err := tracker.End(cmd.Context(), args[0]); err != nil {
		exitErr("end session", err)
	}
	fmt.Println("ended")
}
