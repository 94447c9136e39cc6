package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Hara602/devMonitor/internal/device"
)

func newListCmd(opts *globalOptions) *cobra.Command {
	var filter device.Filter
	var withAttrs bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List devices currently known to the system",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			records, err := client.Enumerate(filter, withAttrs)
			if err != nil {
				return err
			}
			return writeRecords(os.Stdout, records, opts.jsonOutput)
		},
	}
	addFilterFlags(cmd, &filter)
	cmd.Flags().BoolVar(&withAttrs, "attrs", false, "include sysfs attributes")
	return cmd
}

func addFilterFlags(cmd *cobra.Command, f *device.Filter) {
	cmd.Flags().StringSliceVarP(&f.Subsystems, "subsystem", "s", nil, "match subsystem (repeatable)")
	cmd.Flags().StringSliceVarP(&f.Tags, "tag", "t", nil, "match udev tag (repeatable)")
}
