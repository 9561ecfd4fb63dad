package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/NodePath81/fbspeed/internal/endpoint"
	"github.com/NodePath81/fbspeed/internal/netinfo"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate config and optionally check endpoint reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: ping=%s download=%s upload=%s\n",
				cfg.Endpoints.Ping, cfg.Endpoints.Download, cfg.Endpoints.Upload)

			ping, _ := cmd.Flags().GetBool("ping")
			if !ping {
				return nil
			}
			count, _ := cmd.Flags().GetInt("count")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			client, err := endpoint.New(endpoint.Options{
				PingURL:     cfg.Endpoints.Ping,
				DownloadURL: cfg.Endpoints.Download,
				UploadURL:   cfg.Endpoints.Upload,
			})
			if err != nil {
				return err
			}
			defer client.Close()
			return checkReachability(cmd.Context(), cmd, client.Host(), client.Port(), count, timeout)
		},
	}
	cmd.Flags().Bool("ping", false, "Check ICMP and TCP reachability of the ping endpoint")
	cmd.Flags().Int("count", 4, "ICMP echo requests to send")
	cmd.Flags().Duration("timeout", 2*time.Second, "Per-request timeout")
	return cmd
}

func checkReachability(ctx context.Context, cmd *cobra.Command, host string, port, count int, timeout time.Duration) error {
	out := cmd.OutOrStdout()
	inspector := netinfo.NewInspector(netinfo.InspectorOptions{Host: host, RouteLookup: true})
	info, err := inspector.Inspect(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "endpoint %s resolved to %s", host, info.IP)
	if info.Interface != "" {
		fmt.Fprintf(out, " via %s", info.Interface)
	}
	fmt.Fprintln(out)

	rtts, err := netinfo.Ping(ctx, net.ParseIP(info.IP), count, timeout)
	if err != nil {
		fmt.Fprintf(out, "icmp: %v\n", err)
	} else {
		var sum time.Duration
		for _, rtt := range rtts {
			sum += rtt
		}
		avg := float64(sum) / float64(len(rtts)) / float64(time.Millisecond)
		fmt.Fprintf(out, "icmp: %d/%d replies, avg %s\n", len(rtts), count, util.FormatMs(util.Round(avg, 1)))
	}

	rtt, err := netinfo.TCPConnect(ctx, info.IP, port, timeout)
	if err != nil {
		return fmt.Errorf("tcp connect %s: %w", util.NetJoin(info.IP, port), err)
	}
	ms := float64(rtt) / float64(time.Millisecond)
	fmt.Fprintf(out, "tcp: connected to %s in %s\n", util.NetJoin(info.IP, port), util.FormatMs(util.Round(ms, 1)))
	return nil
}
