package cli

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/scrypster/memgate/internal/audit"
	"github.com/scrypster/memgate/internal/semantic/pgvector"
)

func init() {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare the relational store against the semantic index",
		Long:  "Runs a consistency check. Requires MEMGATE_PGVECTOR_DSN so the semantic side can be enumerated; without it the semantic side is reported unreachable.",
		Run:   runAudit,
	}
	auditCmd.Flags().String("user", "", "Check a single user instead of every owner")
	auditCmd.Flags().Int("sample", 10, "Max divergent ids listed per side")

	RootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) {
	userID, _ := cmd.Flags().GetString("user")
	sample, _ := cmd.Flags().GetInt("sample")

	store, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer store.Close()

	var lister audit.IndexLister
	if dsn := os.Getenv("MEMGATE_PGVECTOR_DSN"); dsn != "" {
		dim, _ := strconv.Atoi(os.Getenv("MEMGATE_EMBEDDING_DIM"))
		if dim == 0 {
			dim = 768
		}
		index, err := pgvector.NewIndex(dsn, dim)
		if err != nil {
			exitErr("connect vector index", err)
		}
		defer index.Close()
		lister = index
	} else {
		lister = audit.UnreachableIndex{}
	}

	auditor := audit.NewAuditor(store, lister, sample)
	if userID != "" {
		report, err := auditor.CheckUser(cmd.Context(), userID)
		if err != nil {
			exitErr("audit", err)
		}
		printJSON(report)
		return
	}

	reports, err := auditor.CheckAll(cmd.Context())
	if err != nil {
		exitErr("audit", err)
	}
	printJSON(reports)
}
