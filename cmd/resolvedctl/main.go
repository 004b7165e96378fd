package main

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/fosrl/newt/logger"
	dbus "github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/fosrl/resolved/dnscheck"
	"github.com/fosrl/resolved/resolved"
	"github.com/fosrl/resolved/util"
)

var (
	device   string
	logLevel string
)

func main() {
	logger.Init(nil)

	root := &cobra.Command{
		Use:   "resolvedctl",
		Short: "Inspect and configure per-link DNS settings in systemd-resolved",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.GetLogger().SetLevel(parseLogLevel(logLevel))
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&device, "device", "d", "", "network interface to operate on")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "log level (DEBUG, INFO, WARN, ERROR, FATAL)")

	root.AddCommand(
		statusCommand(),
		setDNSCommand(),
		setDomainsCommand(),
		setDefaultRouteCommand(),
		setDNSSECCommand(),
		setDNSOverTLSCommand(),
		revertCommand(),
		errorsCommand(),
		checkCommand(),
		versionCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// withLink connects to the system bus, resolves --device to its link
// and runs fn against it. Background work is always waited for before
// the manager shuts down, and any accumulated failures are reported.
func withLink(fn func(link *resolved.Link) error) error {
	if device == "" {
		return fmt.Errorf("no device given, use --device")
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("connect to system bus: %w", err)
	}
	defer conn.Close()

	mgr, err := resolved.NewManager(conn)
	if err != nil {
		return err
	}
	defer mgr.Close()

	link, err := mgr.RetrieveLink(device)
	if err != nil {
		return err
	}
	if link == nil {
		return fmt.Errorf("systemd-resolved knows no link for device %s", device)
	}

	runErr := fn(link)
	link.WaitForBackgroundTasks()
	for _, e := range link.GetErrors() {
		logger.Error("%s: %s", device, e.String())
	}
	return runErr
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the link's DNS configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLink(func(link *resolved.Link) error {
				heading := fmt.Sprintf("Link %s (%s)", link.Device(), link.Path())
				if util.IsColourTerminal() {
					heading = "\033[1m" + heading + "\033[0m"
				}
				fmt.Println(heading)

				servers, err := link.GetDNSServers()
				if err != nil {
					return err
				}
				fmt.Printf("  DNS servers:    %s\n", strings.Join(servers, ", "))
				if current := link.GetCurrentDNSServer(); current != "" {
					fmt.Printf("  Current server: %s\n", current)
				}

				domains, err := link.GetDomains()
				if err != nil {
					return err
				}
				names := make([]string, 0, len(domains))
				for _, dom := range domains {
					name := dom.Search
					if dom.Routing {
						name = "~" + name
					}
					names = append(names, name)
				}
				fmt.Printf("  Domains:        %s\n", strings.Join(names, ", "))

				route, err := link.GetDefaultRoute()
				if err != nil {
					return err
				}
				fmt.Printf("  Default route:  %v\n", route)

				dnssec, err := link.GetDNSSEC()
				if err != nil {
					return err
				}
				fmt.Printf("  DNSSEC:         %s\n", dnssec)

				dnstls, err := link.GetDNSOverTLS()
				if err != nil {
					return err
				}
				fmt.Printf("  DNSOverTLS:     %s\n", dnstls)
				return nil
			})
		},
	}
}

func setDNSCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-dns <address>...",
		Short: "Replace the link's DNS servers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			servers := make([]netip.Addr, 0, len(args))
			for _, arg := range args {
				addr, err := netip.ParseAddr(arg)
				if err != nil {
					return fmt.Errorf("invalid DNS server address '%s': %w", arg, err)
				}
				servers = append(servers, addr)
			}
			return withLink(func(link *resolved.Link) error {
				applied, err := link.SetDNSServers(servers)
				if err != nil {
					return err
				}
				fmt.Printf("Submitted DNS servers for %s: %s\n", device, strings.Join(applied, ", "))
				return nil
			})
		},
	}
}

func setDomainsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-domains <domain>...",
		Short: "Replace the link's search domains (prefix with ~ for routing-only)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domains := make([]resolved.SearchDomain, 0, len(args))
			for _, arg := range args {
				domains = append(domains, resolved.SearchDomain{
					Search:  strings.TrimPrefix(arg, "~"),
					Routing: strings.HasPrefix(arg, "~"),
				})
			}
			return withLink(func(link *resolved.Link) error {
				applied, err := link.SetDomains(domains)
				if err != nil {
					return err
				}
				fmt.Printf("Submitted search domains for %s: %s\n", device, strings.Join(applied, ", "))
				return nil
			})
		},
	}
}

func setDefaultRouteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-default-route <true|false>",
		Short: "Make the link the default route for DNS lookups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			route, err := strconv.ParseBool(args[0])
			if err != nil {
				return fmt.Errorf("invalid default-route value '%s': %w", args[0], err)
			}
			return withLink(func(link *resolved.Link) error {
				return link.SetDefaultRoute(route)
			})
		},
	}
}

func setDNSSECCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-dnssec <yes|no|allow-downgrade>",
		Short: "Change the link's DNSSEC mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLink(func(link *resolved.Link) error {
				return link.SetDNSSEC(args[0])
			})
		},
	}
}

func setDNSOverTLSCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-dnstls <no|false|yes|true|opportunistic>",
		Short: "Change the link's DNS-over-TLS mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLink(func(link *resolved.Link) error {
				return link.SetDNSOverTLS(args[0])
			})
		},
	}
}

func revertCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revert",
		Short: "Reset the link's DNS configuration to resolved's defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLink(func(link *resolved.Link) error {
				return link.Revert()
			})
		},
	}
}

func errorsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "errors",
		Short: "Drain and show the link's accumulated background call failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLink(func(link *resolved.Link) error {
				errs := link.GetErrors()
				if len(errs) == 0 {
					fmt.Printf("No recorded errors for %s\n", device)
					return nil
				}
				for _, e := range errs {
					fmt.Println(e.String())
				}
				return nil
			})
		},
	}
}

func checkCommand() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "check <name>",
		Short: "Verify the link's DNS server answers a query for <name>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLink(func(link *resolved.Link) error {
				target := server
				if target == "" {
					target = link.GetCurrentDNSServer()
				}
				if target == "" {
					servers, err := link.GetDNSServers()
					if err != nil {
						return err
					}
					if len(servers) == 0 {
						return fmt.Errorf("no DNS server configured on %s", device)
					}
					target = servers[0]
				}
				res, err := dnscheck.Probe(target, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s answered for %s in %s (%s)\n", res.Server, args[0], res.RTT, res.Rcode)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "query this server instead of the link's")
	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the program version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(util.ProgramVersion("resolvedctl"))
		},
	}
}

func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return logger.DEBUG
	case "WARN":
		return logger.WARN
	case "ERROR":
		return logger.ERROR
	case "FATAL":
		return logger.FATAL
	default:
		return logger.INFO
	}
}
