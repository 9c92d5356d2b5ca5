package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/openfroyo/provisioner/pkg/engine"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, r *engine.Result) error {
	if jsonOutput {
		return printJSON(w, r)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Resource:\t%s\n", r.ResourceID)
	fmt.Fprintf(tw, "State:\t%s (%s)\n", r.State, r.Idempotency)
	fmt.Fprintf(tw, "Location:\t%s\n", r.Location)
	if r.Tier != "" {
		fmt.Fprintf(tw, "Tier:\t%s\n", r.Tier)
	}
	if r.DeploymentName != "" {
		fmt.Fprintf(tw, "Deployment:\t%s\n", r.DeploymentName)
	}
	if r.CorrelationID != "" {
		fmt.Fprintf(tw, "Correlation ID:\t%s\n", r.CorrelationID)
	}
	if !r.NameCompliant {
		fmt.Fprintf(tw, "Naming:\tname does not follow the naming policy\n")
	}
	keys := make([]string, 0, len(r.Outputs))
	for k := range r.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(tw, "Output %s:\t%v\n", k, r.Outputs[k])
	}
	return tw.Flush()
}

func printRuns(w io.Writer, runs []*engine.Run) error {
	if jsonOutput {
		return printJSON(w, runs)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tTYPE\tGROUP\tNAME\tSTATUS\tSTATE\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.ResourceType, r.ResourceGroup, r.ResourceName,
			r.Status, r.State, r.ErrorCategory)
	}
	return tw.Flush()
}

func printEvents(w io.Writer, events []engine.Event) error {
	if jsonOutput {
		return printJSON(w, events)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tLEVEL\tKIND\tPATH\tDETAILS")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Level, e.Kind, e.Path, formatPayload(e.Payload))
	}
	return tw.Flush()
}

func formatPayload(p map[string]interface{}) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return strings.Join(parts, " ")
}
