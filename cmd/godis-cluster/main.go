package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"

	"github.com/CodingCaius/godis-cluster/admin"
	"github.com/CodingCaius/godis-cluster/cluster"
	"github.com/CodingCaius/godis-cluster/config"
	"github.com/CodingCaius/godis-cluster/discovery"
	"github.com/CodingCaius/godis-cluster/lib/logger"
	promadapter "github.com/CodingCaius/godis-cluster/lib/metrics/prometheus"
	"github.com/CodingCaius/godis-cluster/proxy"
	"github.com/CodingCaius/godis-cluster/snapshot"
	"github.com/CodingCaius/godis-cluster/tcp"
)

var (
	// Build is set by the linker
	Build = "dev"
	app   *cli.App
)

func main() {
	app = cli.NewApp()
	app.Name = "godis-cluster"
	app.Usage = "inspect and use a sharded redis cluster"
	app.Version = Build
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "c,config",
			Usage: "config file, redis.conf style or .yaml",
		},
		cli.StringFlag{
			Name:   "n,nodes",
			Usage:  "comma separated seed nodes, host:port or redis:// uri",
			EnvVar: "GODIS_CLUSTER_NODES",
		},
		cli.StringFlag{
			Name:  "zk",
			Usage: "comma separated zookeeper servers to discover seeds from",
		},
		cli.StringFlag{
			Name:  "zk-path",
			Usage: "znode whose children are the seed nodes",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
		},
		cli.BoolFlag{
			Name:  "replicas",
			Usage: "send read-only commands to replicas",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "slots",
			Usage:  "show the slot ranges and their nodes",
			Action: runSlots,
		},
		{
			Name:   "nodes",
			Usage:  "show every node of the cluster",
			Action: runNodes,
		},
		{
			Name:      "slaves",
			Usage:     "show the replicas of a master",
			ArgsUsage: "<node-id>",
			Action:    runSlaves,
		},
		{
			Name:   "info",
			Usage:  "show CLUSTER INFO",
			Action: runInfo,
		},
		{
			Name:      "keyslot",
			Usage:     "compute the slot of a key",
			ArgsUsage: "<key>",
			Action:    runKeyslot,
		},
		{
			Name:      "do",
			Usage:     "run one command against the cluster",
			ArgsUsage: "<command> [args...]",
			Action:    runDo,
		},
		{
			Name:      "export",
			Usage:     "dump string keys into an rdb file",
			ArgsUsage: "<file>",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "match", Usage: "SCAN MATCH pattern"},
				cli.IntFlag{Name: "count", Usage: "SCAN COUNT hint", Value: 100},
			},
			Action: runExport,
		},
		{
			Name:      "restore",
			Usage:     "load the string keys of an rdb file into the cluster",
			ArgsUsage: "<file>",
			Action:    runRestore,
		},
		{
			Name:  "proxy",
			Usage: "serve plain redis clients in front of the cluster",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "listen", Usage: "proxy bind address"},
			},
			Action: runProxy,
		},
		{
			Name:  "admin",
			Usage: "serve introspection and metrics over http",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "listen", Usage: "admin bind address"},
			},
			Action: runAdmin,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadProps reads the config file then applies the global flags
func loadProps(c *cli.Context) (*config.ClusterProperties, error) {
	props, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if nodes := c.GlobalString("nodes"); nodes != "" {
		props.Nodes = strings.Split(nodes, ",")
	}
	if servers := c.GlobalString("zk"); servers != "" {
		props.ZKServers = strings.Split(servers, ",")
	}
	if path := c.GlobalString("zk-path"); path != "" {
		props.ZKPath = path
	}
	if level := c.GlobalString("log-level"); level != "" {
		props.LogLevel = level
	}
	if c.GlobalBool("replicas") {
		props.UseReplicas = true
	}

	// command output goes to stdout, logs to stderr
	logger.SetOutput(os.Stderr)
	if err := logger.SetLevel(props.LogLevel); err != nil {
		return nil, err
	}
	if props.LogDir != "" {
		if err := logger.Setup(&logger.Settings{Path: props.LogDir, Name: "godis-cluster"}); err != nil {
			return nil, err
		}
	}
	return props, nil
}

func connect(ctx context.Context, props *config.ClusterProperties, opts ...cluster.Option) (*cluster.Client, error) {
	seeds, err := discovery.Resolve(ctx, props)
	if err != nil {
		return nil, err
	}
	return cluster.MakeClient(ctx, seeds, props, opts...)
}

// withClient runs fn with a connected client
func withClient(fn func(ctx context.Context, c *cli.Context, client *cluster.Client) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		props, err := loadProps(c)
		if err != nil {
			return err
		}
		ctx := context.Background()
		client, err := connect(ctx, props)
		if err != nil {
			return err
		}
		defer client.Close()
		return fn(ctx, c, client)
	}
}

func runSlots(c *cli.Context) error {
	return withClient(func(ctx context.Context, c *cli.Context, client *cluster.Client) error {
		slots, err := client.Slots(ctx)
		if err != nil {
			return err
		}
		printSlots(os.Stdout, slots)
		return nil
	})(c)
}

func runNodes(c *cli.Context) error {
	return withClient(func(ctx context.Context, c *cli.Context, client *cluster.Client) error {
		nodes, err := client.Nodes(ctx)
		if err != nil {
			return err
		}
		printNodes(os.Stdout, nodes, time.Now())
		return nil
	})(c)
}

func runSlaves(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: slaves <node-id>", 2)
	}
	return withClient(func(ctx context.Context, c *cli.Context, client *cluster.Client) error {
		slaves, err := client.Slaves(ctx, c.Args().First())
		if err != nil {
			return err
		}
		printNodes(os.Stdout, slaves, time.Now())
		return nil
	})(c)
}

func runInfo(c *cli.Context) error {
	return withClient(func(ctx context.Context, c *cli.Context, client *cluster.Client) error {
		info, err := client.Info(ctx)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(info))
		for k := range info {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s:%s\n", k, info[k])
		}
		return nil
	})(c)
}

func runKeyslot(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: keyslot <key>", 2)
	}
	fmt.Println(cluster.Slot(c.Args().First()))
	return nil
}

func runDo(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.NewExitError("usage: do <command> [args...]", 2)
	}
	return withClient(func(ctx context.Context, c *cli.Context, client *cluster.Client) error {
		reply, err := client.Do(ctx, c.Args()...)
		if err != nil {
			return err
		}
		fmt.Print(formatReply(reply))
		return nil
	})(c)
}

func runExport(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: export <file>", 2)
	}
	return withClient(func(ctx context.Context, c *cli.Context, client *cluster.Client) error {
		filename := c.Args().First()
		stats, err := snapshot.ExportFile(ctx, client, filename, snapshot.Options{
			Match: c.String("match"),
			Count: c.Int("count"),
		})
		if err != nil {
			return err
		}
		size := "?"
		if st, err := os.Stat(filename); err == nil {
			size = humanize.Bytes(uint64(st.Size()))
		}
		fmt.Printf("exported %s keys from %d masters (%d skipped), %s written to %s\n",
			humanize.Comma(int64(stats.Keys)), stats.Masters, stats.Skipped, size, filename)
		return nil
	})(c)
}

func runRestore(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: restore <file>", 2)
	}
	return withClient(func(ctx context.Context, c *cli.Context, client *cluster.Client) error {
		file, err := os.Open(c.Args().First())
		if err != nil {
			return err
		}
		defer file.Close()
		n, err := snapshot.Restore(ctx, client, file)
		if err != nil {
			return err
		}
		fmt.Printf("restored %s keys\n", humanize.Comma(int64(n)))
		return nil
	})(c)
}

func runProxy(c *cli.Context) error {
	props, err := loadProps(c)
	if err != nil {
		return err
	}
	if listen := c.String("listen"); listen != "" {
		props.ProxyBind = listen
	}
	client, err := connect(context.Background(), props, cluster.WithMetrics(promadapter.NewClusterMetrics(prometheus.DefaultRegisterer)))
	if err != nil {
		return err
	}
	defer client.Close()
	return proxy.MakeProxy(client).ListenAndServe(&tcp.Config{Address: props.ProxyBind})
}

func runAdmin(c *cli.Context) error {
	props, err := loadProps(c)
	if err != nil {
		return err
	}
	if listen := c.String("listen"); listen != "" {
		props.AdminBind = listen
	}
	reg := prometheus.NewRegistry()
	client, err := connect(context.Background(), props, cluster.WithMetrics(promadapter.NewClusterMetrics(reg)))
	if err != nil {
		return err
	}
	defer client.Close()

	server := admin.NewServer(client, props.AdminBind, reg)
	if err := server.Start(); err != nil {
		return err
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	return server.Stop()
}
