package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scrypster/memgate/internal/storage"
	"github.com/scrypster/memgate/pkg/types"
)

func init() {
	clientsCmd := &cobra.Command{
		Use:   "clients",
		Short: "Manage registered clients",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registry entries",
		Run:   runClientsList,
	}
	listCmd.Flags().String("status", "", "Filter by trust status (pending, approved, blocked, unknown)")
	listCmd.Flags().String("type", "", "Filter by client type")
	listCmd.Flags().Bool("quarantined", false, "Only entries awaiting review")
	listCmd.Flags().IntP("limit", "l", 20, "Max results")
	listCmd.Flags().Int("page", 1, "Page number")

	approveCmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a client (also unblocks)",
		Args:  cobra.ExactArgs(1),
		Run:   runClientsApprove,
	}

	blockCmd := &cobra.Command{
		Use:   "block <id>",
		Short: "Block a client",
		Args:  cobra.ExactArgs(1),
		Run:   runClientsBlock,
	}

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a registry entry outright",
		Args:  cobra.ExactArgs(1),
		Run:   runClientsRm,
	}

	clientsCmd.AddCommand(listCmd, approveCmd, blockCmd, rmCmd)
	RootCmd.AddCommand(clientsCmd)
}

func runClientsList(cmd *cobra.Command, args []string) {
	status, _ := cmd.Flags().GetString("status")
	clientType, _ := cmd.Flags().GetString("type")
	quarantined, _ := cmd.Flags().GetBool("quarantined")
	limit, _ := cmd.Flags().GetInt("limit")
	page, _ := cmd.Flags().GetInt("page")

	store, service, err := openRegistry()
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	result, err := service.List(cmd.Context(), storage.RegistryListOptions{
		Page:            page,
		Limit:           limit,
		Status:          types.RegistryStatus(status),
		ClientType:      clientType,
		QuarantinedOnly: quarantined,
	})
	if err != nil {
		exitErr("list clients", err)
	}
	printJSON(result.Items)
	fmt.Printf("total: %d\n", result.Total)
}

func runClientsApprove(cmd *cobra.Command, args []string) {
	store, service, err := openRegistry()
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	entry, err := service.Approve(cmd.Context(), args[0])
	if err != nil {
		exitErr("approve", err)
	}
	printJSON(entry)
}

func runClientsBlock(cmd *cobra.Command, args []string) {
	store, service, err := openRegistry()
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	entry, err := service.Block(cmd.Context(), args[0])
	if err != nil {
		exitErr("block", err)
	}
	printJSON(entry)
}

func runClientsRm(cmd *cobra.Command, args []string) {
	store, service, err := openRegistry()
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	if err := service.Delete(cmd.Context(), args[0]); err != nil {
		exitErr("delete", err)
	}
	fmt.Println("deleted")
}
