package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"flag"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"speech-gateway/internal/app"
	"speech-gateway/internal/config"
	"speech-gateway/internal/decoder"
	"speech-gateway/internal/decoder/googlestt"
	"speech-gateway/internal/decoder/mock"
	"speech-gateway/internal/events"
	"speech-gateway/internal/httpapi"
	"speech-gateway/internal/observability"
	"speech-gateway/internal/observability/metrics"
	"speech-gateway/internal/schema"
	"speech-gateway/internal/session"
	"speech-gateway/internal/vad"
	"speech-gateway/internal/wsapi"
)

func main() {
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate (enables TLS if set with -tls-key)")
	tlsKey := flag.String("tls-key", "", "path to TLS key")
	generateSelfSigned := flag.Bool("generate-self-signed", false, "write a throwaway self-signed cert/key pair for local TLS testing")
	flag.Parse()

	cfg := config.Load()
	application := app.New(cfg)
	if err := application.Start(); err != nil {
		os.Exit(1)
	}
	defer application.Shutdown()

	log := application.Logger.With().Str("component", "gatewayd").Logger()

	m := metrics.DefaultMetrics

	publisher := events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
	})
	defer publisher.Close()

	decoderNew := decoderFactory(cfg.Decoder)

	mgr := session.NewManager(
		session.ManagerConfig{
			MaxSessions:     cfg.Service.MaxSessions,
			IdleTTL:         cfg.Service.IdleTTL,
			FrameSize:       cfg.Service.FrameSize,
			CallTimeout:     cfg.Decoder.CallTimeout,
			MaxFailures:     cfg.Decoder.MaxFailures,
			DecoderProvider: cfg.Decoder.Provider,
		},
		cfg.SessionDefaults,
		vad.NewEnergyDetector(),
		decoderNew,
		m,
	)
	defer mgr.Shutdown()

	wsHandler := wsapi.New(mgr, m, publisher, schema.New())
	router := httpapi.Router(wsHandler)

	addr := net.JoinHostPort(cfg.Service.Host, cfg.Service.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // long-lived WebSocket connections
		IdleTimeout:  120 * time.Second,
	}

	obsServer := observability.NewServer(cfg.Service.MetricsAddr)
	obsServer.Start()

	useTLS := *tlsCert != "" && *tlsKey != "" || *generateSelfSigned
	certFile, keyFile := *tlsCert, *tlsKey
	if *generateSelfSigned && (*tlsCert == "" || *tlsKey == "") {
		var err error
		certFile, keyFile, err = writeSelfSignedCert()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to generate self-signed certificate")
		}
		defer os.Remove(certFile)
		defer os.Remove(keyFile)
		log.Warn().Msg("serving with a generated self-signed certificate; do not use in production")
	}

	go func() {
		var err error
		if useTLS {
			log.Info().Str("addr", addr).Msg("speech gateway listening (tls)")
			err = server.ListenAndServeTLS(certFile, keyFile)
		} else {
			log.Info().Str("addr", addr).Msg("speech gateway listening")
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("gateway server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down speech gateway")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
	_ = obsServer.Shutdown(ctx)
}

// decoderFactory builds the decoder constructor the session.Manager calls
// once per created session, per cfg.Provider.
func decoderFactory(cfg config.Decoder) func(context.Context) (decoder.Decoder, error) {
	switch cfg.Provider {
	case "google":
		return func(ctx context.Context) (decoder.Decoder, error) {
			return googlestt.New(ctx)
		}
	default:
		dec := mock.New()
		return func(context.Context) (decoder.Decoder, error) { return dec, nil }
	}
}

// writeSelfSignedCert writes a short-lived self-signed cert/key pair to the
// temp directory for local TLS testing, mirroring the original server's
// --generate-self-signed-cert convenience flag.
func writeSelfSignedCert() (certPath, keyPath string, err error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", err
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "speech-gateway-dev"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return "", "", err
	}

	certFile, err := os.CreateTemp("", "speech-gateway-*.crt")
	if err != nil {
		return "", "", err
	}
	defer certFile.Close()
	if err := pem.Encode(certFile, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		return "", "", err
	}

	keyFile, err := os.CreateTemp("", "speech-gateway-*.key")
	if err != nil {
		return "", "", err
	}
	defer keyFile.Close()
	if err := pem.Encode(keyFile, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}); err != nil {
		return "", "", err
	}

	if err := tlsSanityCheck(certFile.Name(), keyFile.Name()); err != nil {
		return "", "", err
	}
	return certFile.Name(), keyFile.Name(), nil
}

// tlsSanityCheck loads the generated pair once at startup so a malformed
// cert fails fast instead of on the first TLS handshake.
func tlsSanityCheck(certPath, keyPath string) error {
	_, err := tls.LoadX509KeyPair(certPath, keyPath)
	return err
}
