// longrest — CLI для longrest API.
//
// Регистрирует экземпляры процессов, создаёт и отменяет work item'ы,
// вручную шлёт сигналы, которые обычно присылает удалённый сервис:
//
//	longrest workitem create INSTANCE_ID --param url=http://svc/A --param method=POST
//	longrest signal responded INSTANCE_ID --data '{"status":"done"}'
//	longrest signal alive INSTANCE_ID --timeout PT30S
//
// Адрес API: флаг --api-url, затем LONGREST_API_URL, затем localhost:8080.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/longrest/internal/cli"
)

const defaultAPIURL = "http://localhost:8080"

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		apiURL     string
		jsonOutput bool
		client     *cli.Client
	)

	root := &cobra.Command{
		Use:           "longrest",
		Short:         "Operate long-running REST work items",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	envURL := os.Getenv("LONGREST_API_URL")
	if envURL == "" {
		envURL = defaultAPIURL
	}
	root.PersistentFlags().StringVar(&apiURL, "api-url", envURL, "longrest API base URL")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON")

	// Один клиент на запуск: флаги к этому моменту уже разобраны
	clientFn := func() *cli.Client {
		if client == nil {
			client = cli.NewClient(apiURL)
		}
		return client
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	root.AddCommand(
		cli.NewInstanceCmd(clientFn, outputFn),
		cli.NewWorkItemCmd(clientFn, outputFn),
		cli.NewSignalCmd(clientFn, outputFn),
	)
	return root
}
