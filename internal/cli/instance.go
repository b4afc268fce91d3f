package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewInstanceCmd создаёт группу команд для экземпляров процессов.
func NewInstanceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instance",
		Aliases: []string{"instances"},
		Short:   "Manage process instances",
	}

	cmd.AddCommand(
		newInstanceCreateCmd(clientFn, outputFn),
		newInstanceShowCmd(clientFn, outputFn),
	)

	return cmd
}

var instanceHeaders = []string{"ID", "DEPLOYMENT", "PROCESS", "STATE", "CREATED"}

func instanceRow(inst *InstanceResponse) []string {
	return []string{inst.ID, inst.DeploymentID, inst.ProcessName, inst.State, inst.CreatedAt}
}

func newInstanceCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var id, deployment string
	var vars []string

	cmd := &cobra.Command{
		Use:   "create PROCESS_NAME",
		Short: "Register a process instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			variables, err := parseKeyValues(vars)
			if err != nil {
				return err
			}

			inst, err := client.CreateInstance(CreateInstanceRequest{
				ID:           id,
				DeploymentID: deployment,
				ProcessName:  args[0],
				Variables:    variables,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Instance created: %s", inst.ID))
			out.Print(instanceHeaders, [][]string{instanceRow(inst)}, inst)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Instance ID (generated if not specified)")
	cmd.Flags().StringVar(&deployment, "deployment", "default", "Deployment ID")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Process variable as KEY=VALUE (repeatable)")

	return cmd
}

func newInstanceShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show process instance details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			inst, err := client.GetInstance(args[0])
			if err != nil {
				return err
			}

			out.Print(instanceHeaders, [][]string{instanceRow(inst)}, inst)
			if !out.IsJSON() {
				out.KeyValues("Variables", inst.Variables)
			}
			return nil
		},
	}
}

// parseKeyValues разбирает KEY=VALUE. Значение, похожее на JSON
// (число, объект, true), декодируется, иначе остаётся строкой.
func parseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	values := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid format %q, expected KEY=VALUE", kv)
		}

		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		values[key] = v
	}
	return values, nil
}

// parseJSONData разбирает значение флага --data. Пустая строка — без тела.
func parseJSONData(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("invalid JSON in --data: %w", err)
	}
	return v, nil
}
