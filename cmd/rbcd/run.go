package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/arya-analytics/rbc"
	"github.com/arya-analytics/rbc/internal/member"
	"github.com/arya-analytics/rbc/internal/member/store"
	"github.com/arya-analytics/rbc/internal/signing"
	rbcgrpc "github.com/arya-analytics/rbc/transport/grpc"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "join a broadcast group, publish stdin lines and print deliveries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	f := runCmd.Flags()
	f.String("listen", "localhost:9090", "address peers reach this member at")
	f.StringSlice("peers", nil, "peers as <public key hex>@<host:port>")
	f.String("data", "rbc-data", "directory holding the member store")
	f.String("group", "default", "name of the broadcast group")
	f.Int("rings", 3, "number of rings of the membership view")
	f.Duration("interval", time.Second, "period between gossip rounds")
	f.Int("buffer-size", 0, "gossip buffer capacity (0 uses the default)")
	f.Int("max-messages", 0, "maximum messages exchanged per round (0 uses the default)")
	f.Bool("sweep", true, "synchronize with every ring right after starting")
	f.String("metrics", ":2112", "address of the prometheus endpoint (empty disables it)")
	f.String("grpc-log-level", "warn", "level of the gRPC library's internal logs")
}

func run(ctx context.Context, in io.Reader, out io.Writer) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if err := configureGRPCLogs(); err != nil {
		return err
	}

	signer, err := signing.NewEdSigner(signing.FromFile(viper.GetString("key")))
	if err != nil {
		return errors.Wrap(err, "run keygen first")
	}
	listen := rbc.Address(viper.GetString("listen"))
	self := rbc.NewMember(signer.PublicKey(), listen)
	group := viper.GetString("group")

	members, err := loadMembers(self, group, logger)
	if err != nil {
		return err
	}
	view, err := rbc.NewView(group, viper.GetInt("rings"), members.Slice()...)
	if err != nil {
		return err
	}

	t, err := rbcgrpc.New(rbcgrpc.Config{Self: self.ID, Logger: logger.Named("grpc")})
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", listen.PortString())
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", listen)
	}

	opts := []rbc.Option{
		rbc.WithLogger(logger.Named("broadcast")),
		rbc.WithInterval(viper.GetDuration("interval")),
		rbc.WithParameters(rbc.Parameters{
			BufferSize:  viper.GetInt("buffer-size"),
			MaxMessages: viper.GetInt("max-messages"),
		}),
	}
	if viper.GetBool("sweep") {
		opts = append(opts, rbc.SweepOnStart())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.Serve(lis) })

	b, err := rbc.Open(self, view, signer, t, opts...)
	if err != nil {
		t.Stop()
		return errors.CombineErrors(err, g.Wait())
	}
	b.Register(func(msgs []rbc.Msg) {
		for _, m := range msgs {
			src := "?"
			if len(m.Source) > 0 {
				src = m.Source[0].Short()
			}
			fmt.Fprintf(out, "%s: %s\n", src, m.Content)
		}
	})
	logger.Info("joined broadcast group",
		zap.String("group", group),
		zap.String("self", self.String()),
		zap.Int("members", len(members)),
	)

	var metricsSrv *http.Server
	if addr := viper.GetString("metrics"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	// The stdin reader blocks on Scan and is left behind on shutdown.
	go publish(in, b, logger)

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		err := b.Close()
		t.Stop()
		if metricsSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = errors.CombineErrors(err, metricsSrv.Shutdown(sctx))
		}
		return err
	})
	return g.Wait()
}

func publish(in io.Reader, b rbc.Broadcaster, logger *zap.Logger) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		b.Publish([]byte(line), false)
	}
	if err := sc.Err(); err != nil {
		logger.Warn("stopped reading input", zap.Error(err))
	}
}

// loadMembers merges the persisted members of the group with the configured peers
// and self, then persists the result.
func loadMembers(self rbc.Member, group string, logger *zap.Logger) (member.Group, error) {
	st, err := store.Open(viper.GetString("data"), store.Config{Logger: logger.Named("store")})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close member store", zap.Error(err))
		}
	}()
	id := rbc.ContextID(group)
	members, err := st.Load(id)
	if err != nil {
		return nil, err
	}
	peers, err := parsePeers(viper.GetStringSlice("peers"))
	if err != nil {
		return nil, err
	}
	for _, p := range peers {
		members[p.ID] = p
	}
	members[self.ID] = self
	return members, st.Flush(id, members)
}

func parsePeers(args []string) ([]rbc.Member, error) {
	peers := make([]rbc.Member, 0, len(args))
	for _, arg := range args {
		key, addr, ok := strings.Cut(arg, "@")
		if !ok || addr == "" {
			return nil, errors.Newf("malformed peer %q, expected <public key hex>@<host:port>", arg)
		}
		pk, err := signing.ParsePublicKey(key)
		if err != nil {
			return nil, errors.Wrapf(err, "peer %q", arg)
		}
		peers = append(peers, rbc.NewMember(pk, rbc.Address(addr)))
	}
	return peers, nil
}

func configureGRPCLogs() error {
	lvl, err := logrus.ParseLevel(viper.GetString("grpc-log-level"))
	if err != nil {
		return err
	}
	l := logrus.New()
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.JSONFormatter{})
	rbcgrpc.SetLogger(l)
	return nil
}
