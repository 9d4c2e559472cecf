package app

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// printRegistry writes the operator table: name, output pattern, IO flag,
// default timeout, async support and params. The manifest digest follows,
// and the plan's capabilities digest when a plan declares capabilities.
func (a *App) printRegistry() error {
	tw := tabwriter.NewWriter(a.outW, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OP\tPATTERN\tIO\tTIMEOUT\tASYNC\tPARAMS")
	for _, spec := range a.registry.Ops() {
		params := make([]string, len(spec.Params))
		for i, p := range spec.Params {
			s := p.Name + ":" + p.Type.String()
			if p.Required {
				s += "!"
			}
			params[i] = s
		}
		timeout := "-"
		if spec.DefaultTimeout > 0 {
			timeout = spec.DefaultTimeout.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%t\t%s\n",
			spec.Name, spec.Pattern, spec.IsIO, timeout, spec.RunAsync != nil, strings.Join(params, " "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	manifest, err := a.registry.ManifestDigest()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.outW, "\nmanifest_digest %s\n", manifest)
	if a.plan != nil {
		caps, err := a.plan.CapabilitiesDigest()
		if err != nil {
			return err
		}
		if caps != "" {
			fmt.Fprintf(a.outW, "capabilities_digest %s\n", caps)
		}
	}
	return nil
}
