// Command deaddrop is the CLI entrypoint named as an ambient-stack
// requirement in SPEC_FULL.md §10.5: a send/receive subcommand surface
// mirroring original_source/src/main.rs's flag names and defaults,
// wiring those flags into internal/config and starting the matching
// httpapi service until its self-destruct condition fires.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/kenneth/deaddrop/internal/apperr"
	"github.com/kenneth/deaddrop/internal/archive"
	"github.com/kenneth/deaddrop/internal/audit"
	"github.com/kenneth/deaddrop/internal/codec"
	"github.com/kenneth/deaddrop/internal/config"
	"github.com/kenneth/deaddrop/internal/debug"
	"github.com/kenneth/deaddrop/internal/front"
	"github.com/kenneth/deaddrop/internal/httpapi"
	"github.com/kenneth/deaddrop/internal/keymaterial"
	"github.com/kenneth/deaddrop/internal/metrics"
	"github.com/kenneth/deaddrop/internal/ratelimit"
	"github.com/kenneth/deaddrop/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "deaddrop:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "deaddrop",
		Short:         "Ephemeral, zero-knowledge file transfer",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newSendCmd(), newReceiveCmd())
	return root
}

// newLogger matches the teacher's logrus JSON setup used across its
// middleware package.
func newLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	debug.InitFromLogLevel(level)
	return l
}

func newLimiter(cfg config.RateLimitConfig) (httpapi.Limiter, error) {
	if cfg.RedisURL != "" {
		return ratelimit.NewRedis(cfg.RedisURL, cfg.RequestsPerSecond, cfg.Burst)
	}
	return ratelimit.NewLocal(cfg.RequestsPerSecond, cfg.Burst), nil
}

// wireHotReload registers the loader's reload callback for the handful of
// tunables config.go documents as safe to change on a live process: the
// logger's level and the local limiter's rate. Server bind/port, store
// disk threshold, and audit sink wiring are fixed at startup and untouched
// here.
func wireHotReload(loader *config.Loader, logger *logrus.Logger, limiter httpapi.Limiter) {
	loader.OnReload(func(c *config.Config) {
		if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
			logger.SetLevel(lvl)
		}
		if local, ok := limiter.(*ratelimit.Local); ok {
			local.SetLimit(c.RateLimit.RequestsPerSecond, c.RateLimit.Burst)
		}
	})
}

// bufferPoolReportInterval controls how often the codec package's buffer
// pool hit/miss counters are sampled into Prometheus; the pool itself tracks
// cumulative totals via atomics, so only the delta since the last sample is
// reported.
const bufferPoolReportInterval = 10 * time.Second

// reportBufferPoolMetrics starts a goroutine that periodically samples
// codec.GetGlobalBufferPool() and records the chunk-buffer hit/miss delta,
// stopping when done is closed.
func reportBufferPoolMetrics(m *metrics.Metrics, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(bufferPoolReportInterval)
		defer ticker.Stop()
		prev := codec.GetGlobalBufferPool().Snapshot()
		for {
			select {
			case <-ticker.C:
				cur := codec.GetGlobalBufferPool().Snapshot()
				for i := int64(0); i < cur.HitsChunk-prev.HitsChunk; i++ {
					m.RecordBufferPoolHit("chunk")
				}
				for i := int64(0); i < cur.MissesChunk-prev.MissesChunk; i++ {
					m.RecordBufferPoolMiss("chunk")
				}
				prev = cur
			case <-done:
				return
			}
		}
	}()
}

// runServer starts handler on bind:port and blocks until either an OS
// interrupt or done fires, then drains with a 5-second grace period
// mirroring spec §5's shutdown contract.
func runServer(logger *logrus.Logger, bind string, port int, handler http.Handler, done <-chan struct{}) error {
	srv := &http.Server{
		Addr:    net.JoinHostPort(bind, fmt.Sprintf("%d", port)),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("received interrupt, shutting down")
	case <-done:
		logger.Info("drop lifecycle complete, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// ---- send ----

func newSendCmd() *cobra.Command {
	var (
		port       int
		expire     string
		downloads  int
		password   string
		bind       string
		noQR       bool
		configPath string
	)

	cmd := &cobra.Command{
		Use:     "send PATH [PATH...]",
		Aliases: []string{"s"},
		Short:   "Send file(s) — encrypts and serves them until downloaded",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(args, port, expire, downloads, password, bind, noQR, configPath)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringVarP(&expire, "expire", "e", "1h", "Auto-expire after duration (e.g. 30s, 10m, 1h, 7d)")
	cmd.Flags().IntVarP(&downloads, "downloads", "n", 1, "Max downloads before auto-delete (0 = unlimited)")
	cmd.Flags().StringVar(&password, "pw", "", "Require password for decryption")
	cmd.Flags().StringVarP(&bind, "bind", "b", "0.0.0.0", "Bind address")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "Don't display QR code (QR rendering is an external collaborator, out of scope)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to an optional TOML config file layered under DEADDROP_* env vars and the flags above")

	return cmd
}

func resolveSendSource(paths []string) (src io.Reader, sizeHint int64, filename string, cleanup func(), err error) {
	if len(paths) == 1 && paths[0] != "-" {
		info, statErr := os.Stat(paths[0])
		if statErr != nil {
			return nil, 0, "", nil, statErr
		}
		if !info.IsDir() {
			f, openErr := os.Open(paths[0])
			if openErr != nil {
				return nil, 0, "", nil, openErr
			}
			return f, info.Size(), filepath.Base(paths[0]), func() { f.Close() }, nil
		}
	}

	if len(paths) == 1 && paths[0] == "-" {
		data, readErr := io.ReadAll(os.Stdin)
		if readErr != nil {
			return nil, 0, "", nil, readErr
		}
		return bytes.NewReader(data), int64(len(data)), "stdin.txt", func() {}, nil
	}

	r, name, bundleErr := archive.Bundle(paths, nil)
	if bundleErr != nil {
		return nil, 0, "", nil, bundleErr
	}
	return r, -1, name, func() {}, nil
}

func runSend(paths []string, port int, expireStr string, downloads int, password, bind string, noQR bool, configPath string) error {
	_ = noQR // QR rendering is an external collaborator, out of scope (spec §1)

	loader := config.NewLoader()
	cfg, err := loader.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Server.Bind = bind
	cfg.Server.Port = port

	logger := newLogger(cfg.LogLevel)
	expireDur, err := config.ParseDuration(expireStr)
	if err != nil {
		return err
	}

	src, sizeHint, filename, cleanup, err := resolveSendSource(paths)
	if err != nil {
		return fmt.Errorf("resolve source: %w", err)
	}
	defer cleanup()

	var key *keymaterial.KeyMaterial
	var fragment string
	hasPassword := password != ""
	if hasPassword {
		salt, saltErr := keymaterial.NewSalt()
		if saltErr != nil {
			return saltErr
		}
		key, err = keymaterial.DeriveFromPassword(password, salt)
		if err != nil {
			return err
		}
		fragment = "pw:" + keymaterial.EncodeSalt(salt)
	} else {
		key, err = keymaterial.Generate()
		if err != nil {
			return err
		}
		fragment = key.Encode()
	}
	defer key.Destroy()

	var sink io.WriteSeeker
	var diskPath string
	useDisk := sizeHint < 0 || sizeHint > cfg.Store.DiskThresholdBytes
	if useDisk {
		f, tmpErr := os.CreateTemp("", "deaddrop-*.bin")
		if tmpErr != nil {
			return tmpErr
		}
		defer f.Close()
		_ = os.Chmod(f.Name(), 0o600)
		sink = f
		diskPath = f.Name()
	} else {
		sink = codec.NewMemorySink(int(sizeHint))
	}

	m := metrics.NewMetrics()
	accel := codec.DetectAcceleration()
	m.SetHardwareAccelerationStatus("avx2", accel.HasAVX2)
	m.SetHardwareAccelerationStatus("asimd", accel.HasASIMD)

	encryptStart := time.Now()
	header, err := codec.EncryptToSink(src, sink, key, sizeHint, nil)
	if err != nil {
		if diskPath != "" {
			os.Remove(diskPath)
		}
		m.RecordCodecError(context.Background(), "encrypt", apperr.KindOf(err).String())
		return fmt.Errorf("encrypt: %w", err)
	}
	m.RecordCodecOperation(context.Background(), "encrypt", time.Since(encryptStart), int64(header.OriginalSize))

	drop := &store.Drop{
		ID:            store.NewID(),
		Filename:      filename,
		MimeType:      "application/octet-stream",
		PlaintextSize: int64(header.OriginalSize),
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(expireDur),
		MaxDownloads:  int32(downloads),
		HasPassword:   hasPassword,
	}
	if diskPath != "" {
		drop.Backing = store.BackingDisk
		drop.DiskPath = diskPath
		if info, statErr := os.Stat(diskPath); statErr == nil {
			drop.EncryptedSize = info.Size()
		}
	} else {
		ms := sink.(*codec.MemorySink)
		drop.Backing = store.BackingMemory
		drop.Ciphertext = ms.Bytes()
		drop.EncryptedSize = int64(ms.Len())
	}

	auditLogger, err := audit.NewLoggerFromConfig(cfg.Audit)
	if err != nil {
		return err
	}
	defer auditLogger.Close()

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() { closeOnce.Do(func() { close(done) }) }

	var blobStore *store.BlobStore
	blobStore = store.New(func(id string) {
		m.RecordDropExpired()
		auditLogger.LogLifecycle(audit.EventExpired, id, "", "", "", 0, true, nil, 0)
		if blobStore.IsEmpty() {
			closeDone()
		}
	})
	defer blobStore.Stop()

	if err := blobStore.Insert(drop); err != nil {
		return err
	}
	backingLabel := "memory"
	if drop.Backing == store.BackingDisk {
		backingLabel = "disk"
	}
	m.RecordDropCreated(backingLabel)
	auditLogger.LogLifecycle(audit.EventCreated, drop.ID, "", "", "", drop.EncryptedSize, true, nil, 0)

	limiter, err := newLimiter(cfg.RateLimit)
	if err != nil {
		return err
	}
	wireHotReload(loader, logger, limiter)
	reportBufferPoolMetrics(m, done)

	send := httpapi.NewSendService(blobStore, logger, m, auditLogger, closeDone)
	ready := func(context.Context) error {
		if blobStore.IsEmpty() {
			return fmt.Errorf("drop already delivered")
		}
		return nil
	}
	router := httpapi.NewRouter(logger, m, send, nil, limiter, ready)

	displayHost := bind
	if displayHost == "0.0.0.0" {
		displayHost = "localhost"
	}
	f := front.NewLocal("http", fmt.Sprintf("%s:%d", displayHost, port))
	url := f.URL(fmt.Sprintf("/d/%s", drop.ID), fragment)

	logger.WithFields(logrus.Fields{"url": url, "expires_in": expireDur.String(), "max_downloads": downloads}).Info("drop ready")
	fmt.Println(url)

	return runServer(logger, bind, port, router, done)
}

// ---- receive ----

func newReceiveCmd() *cobra.Command {
	var (
		port       int
		output     string
		bind       string
		noQR       bool
		configPath string
	)

	cmd := &cobra.Command{
		Use:     "receive",
		Aliases: []string{"r"},
		Short:   "Receive a file from another device",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReceive(port, output, bind, noQR, configPath)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringVarP(&output, "output", "o", ".", "Output directory for received files")
	cmd.Flags().StringVarP(&bind, "bind", "b", "0.0.0.0", "Bind address")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "Don't display QR code (QR rendering is an external collaborator, out of scope)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to an optional TOML config file layered under DEADDROP_* env vars and the flags above")

	return cmd
}

func runReceive(port int, output, bind string, noQR bool, configPath string) error {
	_ = noQR

	loader := config.NewLoader()
	cfg, err := loader.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Server.Bind = bind
	cfg.Server.Port = port

	logger := newLogger(cfg.LogLevel)

	if err := os.MkdirAll(output, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	key, err := keymaterial.Generate()
	if err != nil {
		return err
	}
	defer key.Destroy()

	m := metrics.NewMetrics()
	accel := codec.DetectAcceleration()
	m.SetHardwareAccelerationStatus("avx2", accel.HasAVX2)
	m.SetHardwareAccelerationStatus("asimd", accel.HasASIMD)
	auditLogger, err := audit.NewLoggerFromConfig(cfg.Audit)
	if err != nil {
		return err
	}
	defer auditLogger.Close()

	limiter, err := newLimiter(cfg.RateLimit)
	if err != nil {
		return err
	}
	wireHotReload(loader, logger, limiter)

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() { closeOnce.Do(func() { close(done) }) }
	reportBufferPoolMetrics(m, done)

	recv := httpapi.NewReceiveService(key, output, logger, m, auditLogger, closeDone)
	ready := func(context.Context) error { return nil }
	router := httpapi.NewRouter(logger, m, nil, recv, limiter, ready)

	displayHost := bind
	if displayHost == "0.0.0.0" {
		displayHost = "localhost"
	}
	f := front.NewLocal("http", fmt.Sprintf("%s:%d", displayHost, port))
	url := f.URL("/", key.Encode())

	logger.WithField("url", url).Info("waiting for upload")
	fmt.Println(url)

	return runServer(logger, bind, port, router, done)
}
