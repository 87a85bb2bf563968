// Command neighctl is the administrative CLI for a neigh.Table: it exposes
// the add/delete/list/flush verbs described in spec §6's management
// surface, operating against a single resolution table bound to one network
// device.
//
// A real deployment embeds a *neigh.Table inside a long-lived process (a
// routing daemon, a network-namespace agent) and exposes these verbs over
// whatever RPC that process already speaks; this binary builds a table
// against a live interface for direct, one-shot administration, the way an
// operator would reach for `ip neigh` against the kernel's own table.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netresolve/neigh/arp"
	"github.com/netresolve/neigh/neigh"
	"github.com/netresolve/neigh/netlinkiface"
)

var (
	ifaceName string
	log       = logrus.StandardLogger()
)

func main() {
	root := &cobra.Command{
		Use:   "neighctl",
		Short: "Administer a neigh.Table's resolution entries",
	}
	root.PersistentFlags().StringVar(&ifaceName, "iface", "", "network device the table is bound to (required)")
	root.MarkPersistentFlagRequired("iface")

	root.AddCommand(newAddCmd(), newDeleteCmd(), newListCmd(), newFlushCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "neighctl:", err)
		os.Exit(1)
	}
}

// openTable binds a neigh.Table (with the ARP protocol) to ifaceName.
func openTable() (*neigh.Table, *netlinkiface.Interface, error) {
	nic, err := netlinkiface.Open(ifaceName)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %q: %w", ifaceName, err)
	}
	endpoint := arp.NewEndpoint(nil, log)
	table := neigh.NewTable(neigh.TableOptions{Protocol: endpoint, Logger: log})
	endpoint.BindTable(table)
	table.SetProxyReplier(endpoint)
	return table, nic, nil
}

func newAddCmd() *cobra.Command {
	var addr, hwAddr string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Install a static (PERMANENT) entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, nic, err := openTable()
			if err != nil {
				return err
			}
			defer table.Close()
			defer nic.Close()
			return table.AddStatic(neigh.Address(addr), nic, neigh.LinkAddress(hwAddr))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "protocol address, raw bytes (required)")
	cmd.Flags().StringVar(&hwAddr, "hwaddr", "", "link address, raw bytes (required)")
	cmd.MarkFlagRequired("addr")
	cmd.MarkFlagRequired("hwaddr")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove an entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, nic, err := openTable()
			if err != nil {
				return err
			}
			defer table.Close()
			defer nic.Close()
			return table.Delete(neigh.Address(addr), nic)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "protocol address, raw bytes (required)")
	cmd.MarkFlagRequired("addr")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every entry in the table",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, nic, err := openTable()
			if err != nil {
				return err
			}
			defer table.Close()
			defer nic.Close()

			for _, s := range table.List() {
				fmt.Printf("%-8s nic=%d state=%-10s linkaddr=%q updated=%s\n",
					string(s.Addr), s.NIC, s.State, string(s.LinkAddr), s.Updated.Format("15:04:05"))
			}
			return nil
		},
	}
}

func newFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Remove every entry in the table",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, nic, err := openTable()
			if err != nil {
				return err
			}
			defer table.Close()
			defer nic.Close()
			table.Flush()
			return nil
		},
	}
}
