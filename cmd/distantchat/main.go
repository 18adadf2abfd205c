package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "distantchat",
		Short: "Anonymous one-to-one chat over tunnels",
		Long: `distantchat runs a distant chat node: a libp2p host carrying chat
tunnels between identities, a session manager on top of it and an HTTP API
for applications.

It also inspects history checkpoint files and manages node identities.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		nodeCmd(),
		inspectCmd(),
		identityCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Error: %s\n", err)
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║           Zentalk Distant Chat Node v1.0          ║")
	fmt.Println("║      Anonymous chat over encrypted tunnels        ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}
