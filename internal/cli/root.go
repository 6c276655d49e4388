// Package cli implements the memgate admin CLI. Commands operate
// directly against the relational store, so they work whether or not
// the server is running.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/scrypster/memgate/internal/registry"
	"github.com/scrypster/memgate/internal/storage/sqlite"
)

var dbPath string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memgate",
	Short: "Admin tooling for the memgate client registry",
	Long:  "Inspect and manage memgate's client registry, quarantine queue, sessions, and store consistency from the command line.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $MEMGATE_DATA_PATH/memgate.db or ./data/memgate.db)")
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("MEMGATE_DATA_PATH"); env != "" {
		return filepath.Join(env, "memgate.db")
	}
	return filepath.Join("data", "memgate.db")
}

func openStore() (*sqlite.Store, error) {
	return sqlite.NewStore(getDBPath())
}

// openRegistry opens the store and wraps it in a registry service, so
// every status change goes through the trust state machine.
func openRegistry() (*sqlite.Store, *registry.Service, error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	service, err := registry.NewService(store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, service, nil
}

func printJSON(v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
