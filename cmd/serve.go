package cmd

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/containerkit/netcore/pkg/addr"
	"github.com/containerkit/netcore/pkg/config"
	"github.com/containerkit/netcore/pkg/iproute2"
	"github.com/containerkit/netcore/pkg/metrics"
	"github.com/containerkit/netcore/pkg/netlinkclient"
	"github.com/containerkit/netcore/pkg/netns"
	"github.com/containerkit/netcore/pkg/nshandle"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the network provisioning daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("config", "/etc/netcored/config.toml", "path to the TOML config file")
	serveCmd.Flags().String("iproute2-groups", "/etc/iproute2/group", "path to the iproute2 interface-group file")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address to serve /metrics on")
	serveCmd.Flags().Duration("metrics-interval", 15*time.Second, "namespace metrics sampling interval")
}

// runServe wires the daemon's process-wide state (config, interface
// groups, the host NetworkNamespace, the namespace registry, and the
// metrics collector) and blocks until signaled. The RPC surface that
// drives container lifecycle operations is an external collaborator
// per the engine's scope (see DESIGN.md's dropped-CNI-dependency note);
// this command is the library host it attaches to.
func runServe(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	groupsPath, _ := cmd.Flags().GetString("iproute2-groups")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	metricsInterval, _ := cmd.Flags().GetDuration("metrics-interval")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	groups, err := loadGroups(groupsPath)
	if err != nil {
		return err
	}

	registry := netns.NewRegistry()
	if _, err := acquireHostNamespace(registry, cfg, groups); err != nil {
		return err
	}

	collector := metrics.NewCollector(registry, metricsInterval)
	collector.Start()
	defer collector.Stop()

	go serveMetrics(metricsAddr)

	log.Info().Str("metrics_addr", metricsAddr).Msg("netcored started")

	waitForSignal()
	log.Info().Msg("netcored shutting down")
	return nil
}

func loadGroups(path string) (iproute2.Groups, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return iproute2.Groups{}, nil
		}
		return nil, err
	}
	defer f.Close()
	return iproute2.Parse(f)
}

func acquireHostNamespace(registry *netns.Registry, cfg *config.Config, groups iproute2.Groups) (*netns.NetworkNamespace, error) {
	hostNs, err := nshandle.Open(0, nshandle.Net)
	if err != nil {
		return nil, err
	}
	defer hostNs.Close()

	inode, err := hostNs.Inode()
	if err != nil {
		return nil, err
	}

	var natV4, natV6 *addr.NetAddr
	if cfg.NATFirstIPv4 != "" {
		a, err := addr.Parse(cfg.NATFirstIPv4)
		if err != nil {
			return nil, err
		}
		natV4 = &a
	}
	if cfg.NATFirstIPv6 != "" {
		a, err := addr.Parse(cfg.NATFirstIPv6)
		if err != nil {
			return nil, err
		}
		natV6 = &a
	}

	return registry.Acquire(inode, func() (*netns.NetworkNamespace, error) {
		nl, err := netlinkclient.Connect()
		if err != nil {
			return nil, err
		}
		return netns.Build(inode, nl, cfg, groups, true, natV4, natV6, cfg.NATCount)
	})
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
