package cli

import (
	"github.com/spf13/cobra"

	"github.com/scrypster/memgate/internal/storage"
)

func init() {
	quarantineCmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Review clients awaiting trust decisions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List quarantined clients",
		Run:   runQuarantineList,
	}
	listCmd.Flags().IntP("limit", "l", 20, "Max results")
	listCmd.Flags().Int("page", 1, "Page number")

	approveCmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a quarantined client, optionally correcting its identity",
		Args:  cobra.ExactArgs(1),
		Run:   runQuarantineApprove,
	}
	approveCmd.Flags().String("type", "", "Overwrite the detected client type")
	approveCmd.Flags().String("model", "", "Overwrite the detected model name")

	blockCmd := &cobra.Command{
		Use:   "block <id>",
		Short: "Block a quarantined client",
		Args:  cobra.ExactArgs(1),
		Run:   runQuarantineBlock,
	}
	blockCmd.Flags().String("reason", "", "Reason recorded on the entry")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Count registry entries per trust status",
		Run:   runQuarantineStats,
	}

	quarantineCmd.AddCommand(listCmd, approveCmd, blockCmd, statsCmd)
	RootCmd.AddCommand(quarantineCmd)
}

func runQuarantineList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	page, _ := cmd.Flags().GetInt("page")

	store, service, err := openRegistry()
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	result, err := service.ListQuarantined(cmd.Context(), storage.RegistryListOptions{Page: page, Limit: limit})
	if err != nil {
		exitErr("list quarantine", err)
	}
	printJSON(result.Items)
}

func runQuarantineApprove(cmd *cobra.Command, args []string) {
	newType, _ := cmd.Flags().GetString("type")
	newModel, _ := cmd.Flags().GetString("model")

	store, service, err := openRegistry()
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	entry, err := service.ApproveQuarantinedAs(cmd.Context(), args[0], newType, newModel)
	if err != nil {
		exitErr("approve", err)
	}
	printJSON(entry)
}

func runQuarantineBlock(cmd *cobra.Command, args []string) {
	reason, _ := cmd.Flags().GetString("reason")

	store, service, err := openRegistry()
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	entry, err := service.BlockQuarantinedFor(cmd.Context(), args[0], reason)
	if err != nil {
		exitErr("block", err)
	}
	printJSON(entry)
}

func runQuarantineStats(cmd *cobra.Command, args []string) {
	store, service, err := openRegistry()
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	stats, err := service.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	printJSON(stats)
}
