package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewParentCmd создаёт группу команд для многофазных запросов.
func NewParentCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parent",
		Short: "Manage multi-phase requests",
	}

	cmd.AddCommand(
		newParentSubmitCmd(clientFn, outputFn),
		newParentListCmd(clientFn, outputFn),
		newParentShowCmd(clientFn, outputFn),
		newParentExecutionsCmd(clientFn, outputFn),
	)

	return cmd
}

func newParentSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a multi-phase request from a plan file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			plan, err := LoadPlan(file)
			if err != nil {
				return err
			}

			client := clientFn()
			out := outputFn()

			parent, err := client.SubmitParent(plan)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Parent submitted: %s (%d phases)", parent.ID, len(parent.Phases)))
			printPhases(out, parent)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to plan file (YAML or JSON)")

	return cmd
}

func newParentListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active multi-phase requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			parents, err := client.ListParents(limit)
			if err != nil {
				return err
			}

			headers := []string{"ID", "TICKET", "TITLE", "STATUS", "PROGRESS", "CREATED"}
			rows := make([][]string, len(parents))
			for i, p := range parents {
				rows[i] = []string{p.ID, p.TicketID, p.Title, p.Status, progress(p), p.CreatedAt}
			}

			out.Print(headers, rows, parents)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newParentShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show PARENT_ID",
		Short: "Show a multi-phase request and its phases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			parent, err := client.GetParent(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("%s  %s  [%s]", parent.TicketID, parent.Title, parent.Status))
			printPhases(out, parent)
			return nil
		},
	}
}

func newParentExecutionsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "executions PARENT_ID",
		Short: "Show the execution log of a multi-phase request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			records, err := client.ListExecutions(args[0])
			if err != nil {
				return err
			}

			headers := []string{"PHASE", "TICKET", "EVENT", "EXECUTION_ID", "DETAIL", "AT"}
			rows := make([][]string, len(records))
			for i, r := range records {
				rows[i] = []string{strconv.Itoa(r.PhaseNumber), r.TicketID, r.Event, r.ExecutionID, oneLine(r.Detail, 60), r.CreatedAt}
			}

			out.Print(headers, rows, records)
			return nil
		},
	}
}

// printPhases выводит фазы запроса таблицей или весь запрос в JSON.
func printPhases(out *Output, p *ParentResponse) {
	headers := []string{"#", "TICKET", "TITLE", "STATUS", "EXECUTION_ID", "ERROR"}
	rows := make([][]string, len(p.Phases))
	for i, ph := range p.Phases {
		status := ph.Status
		if ph.CancelRequested {
			status += " (cancel requested)"
		}
		rows[i] = []string{strconv.Itoa(ph.Number), ph.TicketID, ph.Title, status, ph.ExecutionID, oneLine(ph.ErrorSummary, 60)}
	}
	out.Print(headers, rows, p)
}

// progress возвращает «завершено/всего» для запроса.
func progress(p ParentResponse) string {
	done := 0
	for _, ph := range p.Phases {
		if ph.Status == "COMPLETED" {
			done++
		}
	}
	return fmt.Sprintf("%d/%d", done, len(p.Phases))
}
