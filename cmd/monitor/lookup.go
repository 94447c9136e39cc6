package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Hara602/devMonitor/internal/device"
	"github.com/Hara602/devMonitor/pkg/event"
)

func newParentCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "parent <syspath>",
		Short: "Show the parent of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			rec, err := client.GetParentBySyspath(args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				if opts.jsonOutput {
					fmt.Println("null")
				} else {
					fmt.Printf("%s has no parent\n", args[0])
				}
				return nil
			}
			return writeRecords(os.Stdout, []event.DeviceRecord{*rec}, opts.jsonOutput)
		},
	}
}

func newAttrsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "attrs <syspath>",
		Short: "Show the sysfs attributes of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			attrs, err := client.GetAttributesBySyspath(args[0])
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(attrs)
			}
			writeMap(os.Stdout, "", attrs)
			return nil
		},
	}
}

func newChainCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chain <syspath>",
		Short: "Show a device and all of its ancestors, with attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			chain, err := client.NodeChain(args[0])
			if err != nil {
				return err
			}
			return writeRecords(os.Stdout, chain, opts.jsonOutput)
		},
	}
}

func newDetailsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "details <syspath>",
		Short: "Summarise every key along a device's ancestor chain, root first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			details, err := client.NodeDetails(args[0])
			if err != nil {
				return err
			}
			return writeDetails(os.Stdout, details, opts.jsonOutput)
		},
	}
}

func writeRecords(w io.Writer, records []event.DeviceRecord, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	for _, r := range records {
		fmt.Fprintln(w, r.Syspath)
		writeMap(w, "  ", r.Properties)
		if r.Sysattrs != nil {
			fmt.Fprintln(w, "  [sysattrs]")
			writeMap(w, "  ", r.Sysattrs)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func writeMap(w io.Writer, indent string, m *event.Map) {
	m.Range(func(k string, v event.Value) bool {
		if s, ok := v.Get(); ok {
			fmt.Fprintf(w, "%s%s=%s\n", indent, k, s)
		} else {
			fmt.Fprintf(w, "%s%s (null)\n", indent, k)
		}
		return true
	})
}

func writeDetails(w io.Writer, details []device.DetailEntry, asJSON bool) error {
	if asJSON {
		// 保持键的顺序，逐项输出
		fmt.Fprint(w, "{")
		for i, d := range details {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			k, _ := json.Marshal(d.Key)
			v, err := json.Marshal(d.Values)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s:%s", k, v)
		}
		fmt.Fprintln(w, "}")
		return nil
	}
	for _, d := range details {
		fmt.Fprintf(w, "%s:", d.Key)
		for _, v := range d.Values {
			if s, ok := v.Get(); ok {
				fmt.Fprintf(w, " %q", s)
			} else {
				fmt.Fprint(w, " null")
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}
