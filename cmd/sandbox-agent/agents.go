package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/computesdk/sandbox-agent/internal/agent"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List supported agents and what is installed on this host",
	RunE:  runAgents,
}

var agentsInstallDir string

func init() {
	agentsCmd.Flags().StringVar(&agentsInstallDir, "install-dir", "", "Managed agent binary directory to search before PATH")
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	registry := agent.NewRegistry(agent.RegistryConfig{
		InstallDir: agentsInstallDir,
		Logger:     slog.Default(),
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tINSTALLED\tVERSION\tPATH")
	for _, info := range registry.Agents() {
		installed := "no"
		if info.Installed {
			installed = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", info.ID, info.Name, installed, info.Version, info.Path)
	}
	return w.Flush()
}
