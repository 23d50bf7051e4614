package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getamis/sirius/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mpcmesh/pceps/field"
	"github.com/mpcmesh/pceps/logger"
	"github.com/mpcmesh/pceps/peer"
	"github.com/mpcmesh/pceps/transport"
)

var cmd = &cobra.Command{
	Use:   "pcepsd",
	Short: "runs a single PCEPS/PCEAS network node",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	RunE: run,
}

func init() {
	cmd.Flags().Uint64("pid", 0, "this node's party id (must be nonzero)")
	cmd.Flags().String("version", "pceps", "protocol variant: pceps or pceas")
	cmd.Flags().Bool("master", false, "run this node as the round-opening master")
	cmd.Flags().String("listen", ":5005", "local UDP address to bind")
	cmd.Flags().Duration("timeout", 10*time.Second, "per-phase timeout")
	cmd.Flags().Duration("round-interval", 30*time.Second, "master: interval between opened rounds")
}

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	root := log.New()
	logger.SetLogger(root)

	pid := viper.GetUint64("pid")
	if pid == 0 {
		return fmt.Errorf("pcepsd: --pid is required and must be nonzero")
	}
	version, err := parseVersion(viper.GetString("version"))
	if err != nil {
		return err
	}
	isMaster := viper.GetBool("master")
	timeout := viper.GetDuration("timeout")
	roundInterval := viper.GetDuration("round-interval")

	tr, err := transport.NewUDPTransport(viper.GetString("listen"), root)
	if err != nil {
		return fmt.Errorf("pcepsd: bind transport: %w", err)
	}
	defer tr.Close()

	cfg := peer.Config{
		PID:       field.PID(pid),
		Version:   version,
		Transport: tr,
		Logger:    root,
		Timeout:   timeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if isMaster {
		m := peer.NewMaster(cfg, roundInterval)
		root.Info("starting master", "pid", pid, "version", version, "listen", viper.GetString("listen"))
		return m.Run(ctx)
	}

	p := peer.New(cfg)
	root.Info("starting peer", "pid", pid, "version", version, "listen", viper.GetString("listen"))
	return p.Run(ctx)
}

func parseVersion(s string) (peer.Version, error) {
	switch s {
	case "pceps":
		return peer.PCEPS, nil
	case "peas", "pceas":
		return peer.PCEAS, nil
	default:
		return 0, fmt.Errorf("pcepsd: unknown --version %q (want pceps or pceas)", s)
	}
}
