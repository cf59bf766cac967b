package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/farmxpert/farmxpert/orchestrator/internal/client"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

// askOptions holds flags for the ask command.
type askOptions struct {
	SessionID string
	Hint      string
	Farm      models.FarmContext
	Partials  bool
	JSON      bool
}

// NewAskCmd creates the ask command.
func NewAskCmd(root *rootOptions) *cobra.Command {
	opts := &askOptions{}

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question and stream the answer",
		Long: `Ask a question and stream the answer.

Examples:
  advisorctl ask "How much urea for 4 acres of onion?" --crop onion --land-size 4
  advisorctl ask "Will it rain this week?" --session 1b6f...
  advisorctl ask "Plan my season" --hint comprehensive --partials`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.ChatRequest{
				SessionID: opts.SessionID,
				Query:     strings.Join(args, " "),
				Hint:      opts.Hint,
			}
			if opts.Farm != (models.FarmContext{}) {
				req.Farm = &opts.Farm
			}
			return runAsk(cmd, client.New(root.Server, root.APIKey), req, opts)
		},
	}

	cmd.Flags().StringVar(&opts.SessionID, "session", "", "Continue an existing session")
	cmd.Flags().StringVar(&opts.Hint, "hint", "", "Adapter name or strategy alias to route to")
	cmd.Flags().StringVar(&opts.Farm.Location, "location", "", "Farm location (new sessions)")
	cmd.Flags().Float64Var(&opts.Farm.LandSize, "land-size", 0, "Land size (new sessions)")
	cmd.Flags().StringVar(&opts.Farm.LandUnit, "land-unit", "", "Land unit, defaults to acres (new sessions)")
	cmd.Flags().StringVar(&opts.Farm.Season, "season", "", "Season, e.g. kharif or rabi (new sessions)")
	cmd.Flags().StringVar(&opts.Farm.Crop, "crop", "", "Crop (new sessions)")
	cmd.Flags().BoolVar(&opts.Partials, "partials", false, "Print every partial answer, not just the final one")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print raw events as JSON lines")

	return cmd
}

func runAsk(cmd *cobra.Command, c *client.Client, req client.ChatRequest, opts *askOptions) error {
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)

	sessionID, last, err := c.Chat(cmd.Context(), req, func(ev models.Event) {
		switch {
		case opts.JSON:
			enc.Encode(ev)
		case ev.Type == models.EventPartial && opts.Partials:
			fmt.Fprintf(out, "── partial %d (waiting on: %s)\n%s\n\n", ev.Seq, strings.Join(ev.PendingAdapters, ", "), ev.Answer)
		case ev.Type == models.EventPartial:
			fmt.Fprintf(cmd.ErrOrStderr(), "… %d/%d services answered\n",
				len(ev.ContributingAdapters), len(ev.ContributingAdapters)+len(ev.PendingAdapters))
		}
	})
	if err != nil {
		return err
	}
	if last == nil {
		return fmt.Errorf("stream ended without events")
	}
	if opts.JSON {
		return nil
	}

	printFinal(out, last)
	fmt.Fprintf(cmd.ErrOrStderr(), "\nsession: %s\n", sessionID)
	if last.Type == models.EventError {
		return fmt.Errorf("query rejected: %s", last.Error)
	}
	return nil
}

func printFinal(w io.Writer, ev *models.Event) {
	if ev.Type == models.EventError {
		fmt.Fprintln(w, ev.Error)
		return
	}
	fmt.Fprintln(w, ev.Answer)
	if len(ev.ContributingAdapters) > 0 {
		fmt.Fprintf(w, "\nsources: %s\n", strings.Join(ev.ContributingAdapters, ", "))
	}
}

// NewAdaptersCmd creates the adapters command.
func NewAdaptersCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "adapters",
		Short: "List the advisory services the orchestrator can route to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := client.New(root.Server, root.APIKey).Adapters(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tREQUIRES\tCONCERNS\tDESCRIPTION")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Name, dash(info.Requires), dash(info.Concerns), info.Description)
			}
			return tw.Flush()
		},
	}
}

// NewCancelCmd creates the cancel command.
func NewCancelCmd(root *rootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <workflow-id>",
		Short: "Cancel a running workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.New(root.Server, root.APIKey).Cancel(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancel requested for %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the canceled tasks")
	return cmd
}

// NewWorkflowCmd creates the workflow command.
func NewWorkflowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "workflow <workflow-id>",
		Short: "Show a workflow's tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := client.New(root.Server, root.APIKey).Workflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "workflow %s (%s, %s)\n\n", wf.ID, wf.Mode, wf.Status)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ADAPTER\tSTATUS\tATTEMPTS\tERROR")
			for _, t := range wf.Tasks {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", t.Adapter, t.Status, t.Attempts, t.Error)
			}
			return tw.Flush()
		},
	}
}

func dash(list []string) string {
	if len(list) == 0 {
		return "-"
	}
	return strings.Join(list, ",")
}
