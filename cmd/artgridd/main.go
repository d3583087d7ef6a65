// Command artgridd runs the collaborative canvas engine daemon.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/artgrid/artgrid/clock"
	"github.com/artgrid/artgrid/config"
	"github.com/artgrid/artgrid/core"
	"github.com/artgrid/artgrid/crypto/certgen"
	"github.com/artgrid/artgrid/engine"
	"github.com/artgrid/artgrid/events"
	"github.com/artgrid/artgrid/indexer"
	"github.com/artgrid/artgrid/rpc"
	"github.com/artgrid/artgrid/storage"
	"github.com/artgrid/artgrid/wallet"

	// Import engine modules to trigger their init() self-registration.
	_ "github.com/artgrid/artgrid/engine/modules/auction"
	_ "github.com/artgrid/artgrid/engine/modules/canvas"
	_ "github.com/artgrid/artgrid/engine/modules/ledger"
	_ "github.com/artgrid/artgrid/engine/modules/trade"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	keyPath := flag.String("key", "", "path to keystore file (overrides the configured one)")
	genKey := flag.Bool("genkey", false, "generate a new operator key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + server TLS certs into the given directory and exit")
	flag.Parse()

	// ---- generate key mode ----
	if *genKey {
		path := *keyPath
		if path == "" {
			path = "operator.key"
		}
		w, err := wallet.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := wallet.SaveKey(path, keystorePassword(), w.PrivKey()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Address: %s\n", w.Address())
		fmt.Printf("Saved to: %s\n", path)
		return
	}

	// ---- generate certs mode ----
	if *genCerts != "" {
		if err := certgen.GenerateAll(*genCerts, "artgridd", nil); err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("Certificates generated in %s\n", *genCerts)
		return
	}

	// ---- load config ----
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- operator keystore ----
	// Optional for the daemon: operations arrive signed over RPC. When a
	// keystore is configured it is unlocked up front so a bad path or
	// password fails at startup, not at first use.
	keystorePath := *keyPath
	if keystorePath == "" {
		keystorePath = cfg.Keystore
	}
	if keystorePath != "" {
		priv, err := wallet.LoadKey(keystorePath, keystorePassword())
		if err != nil {
			log.Fatalf("keystore: %v", err)
		}
		operator := wallet.New(priv)
		log.Printf("Operator address: %s", operator.Address())
		if operator.Address() != cfg.Engine.PlatformOwner {
			log.Printf("WARNING: operator key %s is not the configured platform owner", keystorePath)
		}
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	// State and journal share the DB under different key prefixes.
	state := storage.NewStateDB(db)
	journal := storage.NewLevelJournal(db)

	if err := engine.Initialize(state, cfg.Engine.PlatformOwner, cfg.Engine.MinimumBid, cfg.Engine.PixelCount); err != nil {
		log.Fatalf("state init: %v", err)
	}

	// ---- events ----
	emitter := events.NewEmitter()

	// ---- read-model index ----
	indexPath := cfg.IndexDB
	if indexPath == "" {
		indexPath = filepath.Join(cfg.DataDir, "index.db")
	}
	idx, err := indexer.Open(indexPath)
	if err != nil {
		log.Fatalf("open index: %v", err)
	}
	defer idx.Close()
	idx.Attach(emitter)

	// ---- engine ----
	eng := engine.New(state, journal, clock.System{}, emitter, engine.Params{
		MaxActiveCanvases: cfg.Engine.MaxActiveCanvases,
		AuctionDuration:   time.Duration(cfg.Engine.AuctionDuration),
	}, nil)

	replayed, err := eng.Recover()
	if err != nil {
		log.Fatalf("recover: %v", err)
	}
	if replayed > 0 {
		log.Printf("Replayed %d journaled operations", replayed)
	}

	// Resync the index with the recovered state in case it lagged.
	if err := eng.View(func(s core.State) error {
		return idx.Rebuild(s, eng.Now().Unix())
	}); err != nil {
		log.Fatalf("index rebuild: %v", err)
	}

	// ---- admission queue ----
	queue := core.NewOpQueue()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		queue.Drain(
			func(op *core.Operation) error {
				_, err := eng.Apply(op)
				return err
			},
			func(op *core.Operation, err error) {
				log.Printf("[engine] op %s (%s) rejected: %v", op.ID, op.Type, err)
			},
		)
	}()

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(&cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Println("TLS enabled for RPC")
	}

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	feed := rpc.NewFeed(emitter)
	handler := rpc.NewHandler(eng, queue, journal, idx)
	server := rpc.NewServer(rpcAddr, handler, cfg.RPCAuthToken, tlsCfg, feed)
	if err := server.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer server.Stop()
	log.Printf("RPC listening on %s", rpcAddr)
	if cfg.RPCAuthToken != "" {
		log.Println("RPC Bearer token authentication enabled")
	}

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")

	// Stop admitting work, finish the backlog, then drop subscribers.
	queue.Close()
	wg.Wait()
	feed.Close()

	// Deferred calls run in LIFO: server.Stop → idx.Close → db.Close
	log.Println("Shutdown complete.")
}

// Read keystore password from environment (not CLI flags — they leak via ps).
func keystorePassword() string {
	password := os.Getenv("ARTGRID_PASSWORD")
	if password == "" {
		log.Println("WARNING: ARTGRID_PASSWORD not set — keystore will use an empty password")
	}
	return password
}
