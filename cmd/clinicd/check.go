package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errCheckFailed = errors.New("critical checks failed")

// runCheck prints the sanity report for the resolved configuration. It
// never loads a model, so it is safe to run next to a live server.
func runCheck(cmd *cobra.Command, v *viper.Viper) error {
	a, err := setup(cmd, v)
	if err != nil {
		return err
	}
	defer a.mgr.Close()
	report := a.mgr.Sanity()

	out := cmd.OutOrStdout()
	if v.GetBool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "device: %s\n", report.Device)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CHECK\tSTATUS\tDETAIL")
		for _, c := range report.Checks {
			status := "ok"
			switch {
			case !c.OK && c.Critical:
				status = "FAIL"
			case !c.OK:
				status = "warn"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, status, c.Detail)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if !report.OK() {
		return errCheckFailed
	}
	return nil
}
