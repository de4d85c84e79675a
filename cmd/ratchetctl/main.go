// ratchetctl is a demonstration and benchmarking CLI for the secure-ratchet
// engine: it runs a local two-party handshake and message exchange under a
// chosen encryption mode, and optionally serves Prometheus metrics while it
// does so. Grounded on the teacher's cmd/chatserver/main.go bootstrap
// sequence (config.Load, Fatalf on setup error, signal-driven shutdown) and
// actuallydan-pollis's cmd/server/main.go flag-driven entry point.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jaydenbeard/secure-ratchet/internal/config"
	"github.com/jaydenbeard/secure-ratchet/internal/enginemetrics"
	"github.com/jaydenbeard/secure-ratchet/internal/orchestrator"
)

var (
	mode           = flag.String("mode", "", "Encryption mode: PFS, CONVERSATION_PFS, PQC, or MULTI_DEVICE (defaults to config DEFAULT_MODE)")
	conversationID = flag.String("conversation", "demo-conversation", "Conversation ID to exchange messages under")
	message        = flag.String("message", "hello from ratchetctl", "Plaintext message alice sends to bob")
	serveMetrics   = flag.Bool("serve-metrics", false, "Serve Prometheus metrics on METRICS_ADDR until interrupted")
)

func main() {
	flag.Parse()
	cfg := config.Load()

	activeMode := orchestrator.EncryptionMode(cfg.DefaultMode)
	if *mode != "" {
		activeMode = orchestrator.EncryptionMode(*mode)
	}

	registry := prometheus.NewRegistry()
	metrics := enginemetrics.New(registry)

	alice, err := orchestrator.New(cfg.AppName+"-alice", cfg.KeyStoreDir+"/alice", cfg.LegacyKeyStoreDir+"/alice", metrics)
	if err != nil {
		log.Fatalf("FATAL: failed to construct alice's orchestrator: %v", err)
	}
	defer alice.Destroy()

	bob, err := orchestrator.New(cfg.AppName+"-bob", cfg.KeyStoreDir+"/bob", cfg.LegacyKeyStoreDir+"/bob", metrics)
	if err != nil {
		log.Fatalf("FATAL: failed to construct bob's orchestrator: %v", err)
	}
	defer bob.Destroy()

	if err := runDemo(alice, bob, activeMode, *conversationID, *message); err != nil {
		log.Fatalf("FATAL: demo exchange failed: %v", err)
	}

	if *serveMetrics {
		serveMetricsUntilInterrupted(registry, cfg.MetricsAddr)
	}
}

func runDemo(alice, bob *orchestrator.Orchestrator, mode orchestrator.EncryptionMode, conversationID, message string) error {
	if err := alice.SetMode(mode); err != nil {
		return fmt.Errorf("set alice mode: %w", err)
	}
	if err := bob.SetMode(mode); err != nil {
		return fmt.Errorf("set bob mode: %w", err)
	}

	if _, err := alice.GenerateUserKeys("alice", ""); err != nil {
		return fmt.Errorf("generate alice keys: %w", err)
	}
	if _, err := bob.GenerateUserKeys("bob", ""); err != nil {
		return fmt.Errorf("generate bob keys: %w", err)
	}

	if err := bob.EnableEncryption(conversationID, "bob", false, nil); err != nil {
		return fmt.Errorf("enable bob encryption: %w", err)
	}
	if err := alice.EnableEncryption(conversationID, "alice", true, nil); err != nil {
		return fmt.Errorf("enable alice encryption: %w", err)
	}

	env, err := alice.EncryptMessage(conversationID, "alice", message)
	if err != nil {
		return fmt.Errorf("alice encrypt: %w", err)
	}
	log.Printf("alice -> bob: keyId=%s mode=%s messageNumber=%d", env.KeyID, env.Metadata.Mode, env.Metadata.MessageNumber)

	plaintext, err := bob.DecryptMessage(conversationID, "bob", env)
	if err != nil {
		return fmt.Errorf("bob decrypt: %w", err)
	}
	log.Printf("bob received: %q", string(plaintext))

	status := alice.GetEncryptionStatus(conversationID, "alice")
	log.Printf("alice encryption status: mode=%s hasKeys=%v enabled=%v", status.Mode, status.HasKeys, status.IsEnabled)
	return nil
}

func serveMetricsUntilInterrupted(registry *prometheus.Registry, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Printf("serving metrics on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down metrics server...")
	done := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = server.Close()
		close(done)
	}()
	<-done
}
