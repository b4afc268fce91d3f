package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSignalCmd создаёт группу команд для отправки сигналов процессу.
func NewSignalCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Send signals to a process instance",
	}

	cmd.AddCommand(
		newSignalRespondedCmd(clientFn, outputFn),
		newSignalAliveCmd(clientFn, outputFn),
		newSignalSendCmd(clientFn, outputFn),
	)

	return cmd
}

func printSignal(out *Output, resp *SignalResponse) {
	out.Success(fmt.Sprintf("Signal %s accepted for %s", resp.Event, resp.ProcessInstanceID))
	if out.IsJSON() {
		out.JSON(resp)
	}
}

func newSignalRespondedCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "responded INSTANCE_ID",
		Short: "Deliver the remote service response (RESTResponded)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := parseJSONData(data)
			if err != nil {
				return err
			}

			resp, err := clientFn().SignalResponded(args[0], body)
			if err != nil {
				return err
			}
			printSignal(outputFn(), resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "Response body as JSON")

	return cmd
}

func newSignalAliveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var timeout string

	cmd := &cobra.Command{
		Use:   "alive INSTANCE_ID",
		Short: "Send a heartbeat (imAlive)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := clientFn().SignalAlive(args[0], timeout)
			if err != nil {
				return err
			}
			printSignal(outputFn(), resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&timeout, "timeout", "", "Heartbeat timeout as ISO-8601 duration, e.g. PT30S")

	return cmd
}

func newSignalSendCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "send INSTANCE_ID EVENT",
		Short: "Send an arbitrary signal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := parseJSONData(data)
			if err != nil {
				return err
			}

			resp, err := clientFn().SignalSend(args[0], args[1], body)
			if err != nil {
				return err
			}
			printSignal(outputFn(), resp)
			return nil
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "Signal data as JSON")

	return cmd
}
