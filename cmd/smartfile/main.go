package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "smartfile",
	Short: "Index local folders, search them semantically, and tidy them up",
	Long: `smartfile indexes documents in local folders into an embedded database,
answers semantic searches and questions over them, and can reorganise a folder
into category subfolders with a rollback log.

Start the server with "smartfile serve"; the other commands talk to it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the smartfile version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "smartfile version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable coloured output")

	rootCmd.AddCommand(
		serveCmd,
		stopCmd,
		statusCmd,
		indexCmd,
		searchCmd,
		askCmd,
		foldersCmd,
		filesCmd,
		removeFolderCmd,
		clearCmd,
		organiseCmd,
		configCmd,
		versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
