package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/raftkv/pkg/api"
	"github.com/cuemby/raftkv/pkg/client"
	"github.com/cuemby/raftkv/pkg/log"
	"github.com/cuemby/raftkv/pkg/node"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "raftkv",
	Short: "raftkv - a replicated key-value store built on Raft",
	Long: `raftkv is a small replicated key-value store: a durable log and
state machine kept in sync across a cluster by a Raft consensus
engine, with cluster membership discovered through ZooKeeper rather
than a static peer list.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(clusterInfoCmd)
	rootCmd.AddCommand(joinTokenCmd)
	rootCmd.AddCommand(tokenCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a raftkv node",
	Long: `Start a raftkv node. With --as-init this node bootstraps a brand
new single-node cluster; otherwise it joins an existing cluster
through --leader-addr, presenting --join-token to the leader. When
--zk-servers is set, it also discovers the rest of the cluster through
ZooKeeper under --cluster-id.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		raftAddr, _ := cmd.Flags().GetString("raft-addr")
		clusterID, _ := cmd.Flags().GetString("cluster-id")
		clientAddr, _ := cmd.Flags().GetString("client-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		asInit, _ := cmd.Flags().GetBool("as-init")
		leaderAddr, _ := cmd.Flags().GetString("leader-addr")
		zkServers, _ := cmd.Flags().GetStringSlice("zk-servers")
		joinToken, _ := cmd.Flags().GetString("join-token")

		if !asInit && leaderAddr == "" {
			return fmt.Errorf("--leader-addr is required unless --as-init is set")
		}

		n, err := node.New(node.Config{
			NodeID:    id,
			BindAddr:  raftAddr,
			DataDir:   dataDir,
			ClusterID: clusterID,
			ZKServers: zkServers,
		})
		if err != nil {
			return fmt.Errorf("create node: %w", err)
		}

		n.SetInterceptor(api.MetricsInterceptor())

		if asInit {
			if err := n.Bootstrap(); err != nil {
				return fmt.Errorf("bootstrap cluster: %w", err)
			}
			fmt.Printf("raftkv node %s bootstrapped cluster %s\n", id, clusterID)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := n.JoinCluster(ctx, leaderAddr, joinToken)
			cancel()
			if err != nil {
				return fmt.Errorf("join cluster: %w", err)
			}
			fmt.Printf("raftkv node %s joined cluster %s via %s\n", id, clusterID, leaderAddr)
		}

		if len(zkServers) > 0 {
			n.StartMembership(zkServers)
			fmt.Printf("membership discovery running against %v\n", zkServers)
		}

		healthServer := api.NewHealthServer(n)
		go func() {
			if err := healthServer.Start(clientAddr); err != nil {
				nodeLog := log.WithComponent("node")
				nodeLog.Error().Err(err).Msg("health server stopped")
			}
		}()
		fmt.Printf("health/ready/metrics listening on %s\n", clientAddr)
		fmt.Printf("control plane + raft tunnel listening on %s\n", raftAddr)
		fmt.Println("raftkv node is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nshutting down...")
		if err := n.Shutdown(); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		fmt.Println("shutdown complete")
		return nil
	},
}

func init() {
	startCmd.Flags().String("id", "node-1", "Unique Raft server id")
	startCmd.Flags().String("raft-addr", "127.0.0.1:8080", "Address for Raft traffic and the control plane")
	startCmd.Flags().String("cluster-id", "default", "Cluster identifier, used as the ZooKeeper path prefix")
	startCmd.Flags().String("client-addr", "127.0.0.1:9090", "Address for the health/ready/metrics HTTP surface")
	startCmd.Flags().String("data-dir", "./raftkv-data", "Data directory for log, snapshot, and state machine storage")
	startCmd.Flags().Bool("as-init", false, "Bootstrap a brand new cluster instead of joining one")
	startCmd.Flags().String("leader-addr", "", "Address of an existing cluster member to join through")
	startCmd.Flags().StringSlice("zk-servers", nil, "ZooKeeper ensemble for membership discovery (host:port,...)")
	startCmd.Flags().String("join-token", "", "Token presented to the leader when joining a token-enforcing cluster")
}

var getCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Read a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		c, err := client.NewClient(addr)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", addr, err)
		}
		defer c.Close()

		value, ok, err := c.Get(args[0])
		if err != nil {
			return fmt.Errorf("get %q: %w", args[0], err)
		}
		if !ok {
			fmt.Printf("key %q not found\n", args[0])
			return nil
		}
		fmt.Println(string(value))
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put KEY VALUE",
	Short: "Write a key/value pair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		c, err := client.NewClient(addr)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", addr, err)
		}
		defer c.Close()

		if err := c.Put(args[0], []byte(args[1])); err != nil {
			return fmt.Errorf("put %q: %w", args[0], err)
		}
		fmt.Printf("ok\n")
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete KEY",
	Short: "Delete a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		c, err := client.NewClient(addr)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", addr, err)
		}
		defer c.Close()

		if err := c.Delete(args[0]); err != nil {
			return fmt.Errorf("delete %q: %w", args[0], err)
		}
		fmt.Printf("ok\n")
		return nil
	},
}

var clusterInfoCmd = &cobra.Command{
	Use:   "cluster-info",
	Short: "Display the cluster's current leader and server list",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		c, err := client.NewClient(addr)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", addr, err)
		}
		defer c.Close()

		info, err := c.ClusterInfo()
		if err != nil {
			return fmt.Errorf("get cluster info: %w", err)
		}

		fmt.Printf("Leader ID:      %s\n", info.LeaderID)
		fmt.Printf("Leader Address: %s\n", info.LeaderAddr)
		fmt.Printf("Servers:        %d\n", len(info.Servers))
		for _, s := range info.Servers {
			fmt.Printf("  - %s  %s  %s\n", s.ID, s.Address, s.Suffrage)
		}
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a join token on the leader at --addr",
	Long: `Mint a join token. The first token minted switches the cluster from
open admission to token-gated admission: every later join must present
a valid, unconsumed token.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		c, err := client.NewClient(addr)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", addr, err)
		}
		defer c.Close()

		token, err := c.GenerateToken(ttl)
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

var joinTokenCmd = &cobra.Command{
	Use:   "join TOKEN NODE_ID BIND_ADDR",
	Short: "Ask the leader at --addr to admit NODE_ID as a voter",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		token, nodeID, bindAddr := args[0], args[1], args[2]

		if err := client.JoinCluster(addr, nodeID, bindAddr, token); err != nil {
			return fmt.Errorf("join cluster: %w", err)
		}
		fmt.Printf("node %s admitted as a voter\n", nodeID)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{getCmd, putCmd, deleteCmd, clusterInfoCmd, joinTokenCmd, tokenCmd} {
		cmd.Flags().String("addr", "127.0.0.1:8080", "Address of a node's control plane")
	}
	tokenCmd.Flags().Duration("ttl", 10*time.Minute, "How long the minted token stays valid")
}
