package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewWorkItemCmd создаёт группу команд для work item'ов.
func NewWorkItemCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workitem",
		Aliases: []string{"wi"},
		Short:   "Manage work items",
	}

	cmd.AddCommand(
		newWorkItemCreateCmd(clientFn, outputFn),
		newWorkItemShowCmd(clientFn, outputFn),
		newWorkItemAbortCmd(clientFn, outputFn),
	)

	return cmd
}

var workItemHeaders = []string{"ID", "INSTANCE", "HANDLER", "STATUS", "CREATED"}

func workItemRow(item *WorkItemResponse) []string {
	return []string{item.ID, item.ProcessInstanceID, item.Name, item.Status, item.CreatedAt}
}

func newWorkItemCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var handlerName string
	var params []string

	cmd := &cobra.Command{
		Use:   "create INSTANCE_ID",
		Short: "Create a work item for a process instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			parameters, err := parseKeyValues(params)
			if err != nil {
				return err
			}

			item, err := client.CreateWorkItem(CreateWorkItemRequest{
				ProcessInstanceID: args[0],
				Name:              handlerName,
				Parameters:        parameters,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Work item created: %s", item.ID))
			out.Print(workItemHeaders, [][]string{workItemRow(item)}, item)
			return nil
		},
	}

	cmd.Flags().StringVar(&handlerName, "handler", "Rest", "Work item handler name")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Parameter as KEY=VALUE (repeatable), e.g. url=http://svc/run")

	return cmd
}

func newWorkItemShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show work item details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			item, err := client.GetWorkItem(args[0])
			if err != nil {
				return err
			}

			out.Print(workItemHeaders, [][]string{workItemRow(item)}, item)
			if !out.IsJSON() {
				out.KeyValues("Parameters", item.Parameters)
				out.KeyValues("Results", item.Results)
			}
			return nil
		},
	}
}

func newWorkItemAbortCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "abort ID",
		Short: "Abort a running work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			item, err := client.AbortWorkItem(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Work item aborted: %s", item.ID))
			out.Print(workItemHeaders, [][]string{workItemRow(item)}, item)
			return nil
		},
	}
}
