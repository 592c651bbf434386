package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewPhaseCmd создаёт группу команд для отдельных фаз.
func NewPhaseCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phase",
		Short: "Manage phases",
	}

	cmd.AddCommand(newPhaseCancelCmd(clientFn, outputFn))

	return cmd
}

func newPhaseCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel PARENT_ID NUMBER",
		Short: "Cancel a running phase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid phase number %q", args[1])
			}

			client := clientFn()
			out := outputFn()

			parent, err := client.CancelPhase(args[0], n, reason)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Cancellation requested for phase %d of %s", n, parent.ID))
			printPhases(out, parent)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why the phase is being cancelled")

	return cmd
}

// NewLockCmd создаёт группу команд для блокировок тикетов.
func NewLockCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect ticket locks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show TICKET_ID",
		Short: "Show the lock of a ticket (owner/repo#N)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			l, err := client.GetLock(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"TICKET", "HOLDER", "STATUS", "HELD", "ACQUIRED", "EXPIRES"},
				[][]string{{l.TicketID, l.HolderID, l.Status, strconv.FormatBool(l.Held), l.AcquiredAt, l.ExpiresAt}},
				l,
			)
			return nil
		},
	})

	return cmd
}
