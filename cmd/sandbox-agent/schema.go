package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/computesdk/sandbox-agent/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print JSON Schemas for the wire types",
	Long: `Prints a JSON object mapping wire type names (Event, SessionInfo, ...)
to their JSON Schemas. Client generators consume this output.`,
	RunE: runSchema,
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}

func runSchema(cmd *cobra.Command, args []string) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(schema.WireSchemas())
}
