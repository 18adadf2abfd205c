package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ZentaChain/zentalk-distantchat/pkg/api"
	"github.com/ZentaChain/zentalk-distantchat/pkg/crypto"
	"github.com/ZentaChain/zentalk-distantchat/pkg/distantchat"
	"github.com/ZentaChain/zentalk-distantchat/pkg/protocol"
	"github.com/ZentaChain/zentalk-distantchat/pkg/storage"
	"github.com/ZentaChain/zentalk-distantchat/pkg/tunnel"
)

type nodeOptions struct {
	keyPath        string
	listenPort     int
	apiPort        int
	dataDir        string
	bootstrapPeers []string
	directory      []string
	keepAlive      time.Duration
	historyTTL     time.Duration
	rateLimit      int
	dialTimeout    time.Duration
	checkpoint     bool
	trustedKeys    []string
}

func nodeCmd() *cobra.Command {
	opts := &nodeOptions{}

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a distant chat node",
		Long: `Run a distant chat node. The node hosts the identity from --key,
accepts tunnels addressed to it over libp2p and serves the chat API.

Remote identities are reached through --peer entries (id=multiaddr/p2p/...);
peers listed without addresses are looked up in the Kademlia DHT joined
through --bootstrap.

Examples:
  distantchat node --api-port 8080 --listen-port 4001
  distantchat node --bootstrap /ip4/1.2.3.4/tcp/4001/p2p/12D3Koo... \
                   --peer b0...=/ip4/5.6.7.8/tcp/4001/p2p/12D3Koo...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.keyPath, "key", defaultIdentityPath, "Path to the identity key file (created if missing)")
	f.IntVar(&opts.listenPort, "listen-port", 4001, "libp2p listen port")
	f.IntVar(&opts.apiPort, "api-port", 8080, "HTTP API port")
	f.StringVar(&opts.dataDir, "data-dir", "./data", "Directory for the history database and checkpoints")
	f.StringSliceVar(&opts.bootstrapPeers, "bootstrap", nil, "DHT bootstrap peer multiaddrs")
	f.StringSliceVar(&opts.directory, "peer", nil, "Remote identity as id=multiaddr/p2p/peerID")
	f.DurationVar(&opts.keepAlive, "keepalive", 6*time.Second, "Keep-alive interval for established chats")
	f.DurationVar(&opts.historyTTL, "history-ttl", 30*24*time.Hour, "How long chat history is kept")
	f.IntVar(&opts.rateLimit, "rate-limit", 100, "API requests per minute per client")
	f.DurationVar(&opts.dialTimeout, "dial-timeout", 30*time.Second, "Timeout for opening a tunnel")
	f.BoolVar(&opts.checkpoint, "checkpoint", true, "Write a history checkpoint on shutdown and restore it into an empty history store")
	f.StringSliceVar(&opts.trustedKeys, "trusted-key", nil, "PEM public key files whose signed lobby items are accepted")

	return cmd
}

func runNode(opts *nodeOptions) error {
	printBanner()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(opts.keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	identity, created, err := crypto.LoadOrCreateIdentity(opts.keyPath)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}
	if created {
		log.Printf("✅ New identity saved to %s", opts.keyPath)
	}
	log.Printf("✓ Identity %s", identity.ID)

	keys := crypto.NewKeyRing()
	keys.Add(identity.PublicKey)
	if err := keys.LoadPublicKeys(opts.trustedKeys); err != nil {
		return fmt.Errorf("failed to load trusted keys: %w", err)
	}

	h, kad, err := newHost(ctx, identity, opts.listenPort)
	if err != nil {
		return err
	}
	defer h.Close()
	defer kad.Close()

	for _, addr := range h.Addrs() {
		log.Printf("✓ Listening on %s/p2p/%s", addr, h.ID())
	}

	if len(opts.bootstrapPeers) > 0 {
		if err := bootstrap(ctx, h, kad, opts.bootstrapPeers); err != nil {
			log.Printf("⚠️  Bootstrap failed: %v", err)
		}
	}

	directory, err := tunnel.ParseDirectory(opts.directory)
	if err != nil {
		return err
	}

	transport := tunnel.NewP2PTransport(ctx, h, &tunnel.P2PConfig{
		Identities:  []protocol.GxsID{identity.ID},
		Directory:   directory,
		Routing:     kad,
		DialTimeout: opts.dialTimeout,
	})
	defer transport.Close()

	if err := os.MkdirAll(opts.dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	historyPath := filepath.Join(opts.dataDir, "history.db")
	history, err := storage.NewHistoryStore(historyPath, &storage.Config{TTL: opts.historyTTL})
	if err != nil {
		return err
	}
	defer history.Close()
	log.Printf("📬 History store at %s (TTL: %v)", historyPath, opts.historyTTL)

	checkpointPath := filepath.Join(opts.dataDir, "history.ckpt")
	if opts.checkpoint {
		if n, err := history.RestoreCheckpointFile(checkpointPath); err != nil {
			log.Printf("⚠️  Failed to restore checkpoint: %v", err)
		} else if n > 0 {
			log.Printf("✅ Restored %d records from %s", n, checkpointPath)
		}
	}

	chatConfig := distantchat.DefaultConfig()
	chatConfig.KeepAliveInterval = opts.keepAlive
	chatConfig.Archive = history
	chatConfig.Metrics.Registry = prometheus.DefaultRegisterer
	chatConfig.Keys = keys.Lookup
	chats := distantchat.NewService(transport, chatConfig)

	go chats.KeepAlive(ctx, opts.keepAlive)

	apiConfig := api.DefaultConfig()
	apiConfig.Port = opts.apiPort
	apiConfig.RateLimit = opts.rateLimit
	apiConfig.History = history
	server := api.NewServer(chats, apiConfig)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("🛑 Received %s, shutting down...", sig)
	case err := <-errCh:
		if err != nil {
			log.Printf("❌ API server stopped: %v", err)
		}
	}

	for _, s := range chats.Sessions() {
		_ = chats.Close(s.SessionID)
	}
	cancel()

	if opts.checkpoint {
		if n, err := history.ExportCheckpointFile(checkpointPath); err != nil {
			log.Printf("⚠️  Failed to write checkpoint: %v", err)
		} else {
			log.Printf("✅ Wrote %d records to %s", n, checkpointPath)
		}
	}

	log.Println("✓ Node stopped")
	return nil
}

// newHost creates the libp2p host, keyed by the node identity, and a
// Kademlia DHT in server mode
func newHost(ctx context.Context, identity *crypto.Identity, port int) (host.Host, *dht.IpfsDHT, error) {
	priv, err := p2pcrypto.UnmarshalEd25519PrivateKey(identity.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert identity key: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", port)),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
		libp2p.NATPortMap(),
		libp2p.EnableNATService(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	kad, err := dht.New(ctx, h,
		dht.Mode(dht.ModeServer),
		dht.BootstrapPeers(),
	)
	if err != nil {
		h.Close()
		return nil, nil, fmt.Errorf("failed to create DHT: %w", err)
	}

	return h, kad, nil
}

// bootstrap connects to the given peers and joins the DHT
func bootstrap(ctx context.Context, h host.Host, kad *dht.IpfsDHT, peers []string) error {
	connected := 0
	for _, s := range peers {
		maddr, err := multiaddr.NewMultiaddr(s)
		if err != nil {
			log.Printf("⚠️  Invalid bootstrap peer address %s: %v", s, err)
			continue
		}

		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			log.Printf("⚠️  Failed to parse peer info from %s: %v", s, err)
			continue
		}

		if err := h.Connect(ctx, *info); err != nil {
			log.Printf("⚠️  Failed to connect to bootstrap peer %s: %v", info.ID, err)
			continue
		}

		log.Printf("✓ Connected to bootstrap peer %s", info.ID)
		connected++
	}

	if connected == 0 {
		return fmt.Errorf("failed to connect to any bootstrap peers")
	}

	if err := kad.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to bootstrap DHT: %w", err)
	}

	log.Printf("✅ Bootstrapped with %d peers", connected)
	return nil
}
