// Phasegate CLI — инструмент командной строки для многофазных запросов.
//
// Использование:
//
//	phasegate [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	parent  Приём и просмотр многофазных запросов
//	phase   Отмена выполняющейся фазы
//	lock    Состояние блокировки тикета
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Phasegate/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "phasegate",
		Short:         "Phasegate CLI — multi-phase execution coordinator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultURL := "http://localhost:8080"
	if v := os.Getenv("PHASEGATE_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewParentCmd(clientFn, outputFn),
		cli.NewPhaseCmd(clientFn, outputFn),
		cli.NewLockCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
