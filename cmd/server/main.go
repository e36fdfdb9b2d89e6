package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/armature-studio/armature/internal/blob"
	"github.com/armature-studio/armature/internal/config"
	"github.com/armature-studio/armature/internal/coordinator"
	"github.com/armature-studio/armature/internal/docstore"
	"github.com/armature-studio/armature/internal/domain/checkout"
	"github.com/armature-studio/armature/internal/domain/event"
	"github.com/armature-studio/armature/internal/domain/job"
	"github.com/armature-studio/armature/internal/exporter"
	"github.com/armature-studio/armature/internal/mcp"
	"github.com/armature-studio/armature/internal/postgres"
	"github.com/armature-studio/armature/internal/sqlite"
	"github.com/armature-studio/armature/internal/stream"
	"github.com/armature-studio/armature/internal/transport"
	"github.com/armature-studio/armature/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Use stderr for logs in stdio mode to keep stdout clean for JSON-RPC.
	logWriter := io.Writer(os.Stdout)
	if cfg.Transport.Mode == "stdio" {
		logWriter = os.Stderr
	}
	if logPath := os.Getenv("ARMATURE_LOG_PATH"); logPath != "" {
		fileWriter, file, err := newLogFileWriter(logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer file.Close()
			logWriter = fileWriter
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, resolver, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStores()

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		logger.Error("failed to open blob store", "backend", cfg.Blob.Backend, "error", err)
		os.Exit(1)
	}
	defer blobs.Close()

	checkouts := checkout.NewService(stores.Locks, stores.Projects, logger)
	queue := job.NewQueue(stores.Jobs, stores.Projects, job.Defaults{
		MaxAttempts: cfg.Jobs.MaxAttempts,
		LeaseMs:     cfg.Jobs.LeaseMs,
	}, logger)
	events := event.NewLog(stores.Events, logger)
	coord := coordinator.New(stores, checkouts, queue, events, logger)

	pool := worker.NewPool(coord, cfg.Jobs.Workers, time.Duration(cfg.Jobs.PollMs)*time.Millisecond, logger)
	pool.Register(exporter.Kind, exporter.New(coord, blobs, logger).Handle)

	mcpServer := mcp.NewServer(mcp.Config{
		Coordinator:   coord,
		Resolver:      resolver,
		AuthEnabled:   cfg.Auth.Enabled,
		TransportMode: cfg.Transport.Mode,
		CheckoutTTL:   time.Duration(cfg.Checkout.TTLSeconds) * time.Second,
		Logger:        logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })

	if cfg.Transport.Mode == "stdio" {
		logger.Info("starting stdio transport", "auth", "disabled")
		g.Go(func() error {
			return mcpServer.Run(gctx, &sdkmcp.StdioTransport{})
		})
	} else {
		g.Go(func() error {
			return runHTTP(gctx, cfg, coord, mcpServer, resolver, logger)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down")
}

// openStores builds the persistence layer for the configured backend. The
// badger backend keeps documents in badger while coordination metadata
// (locks, jobs, events) lives in sqlite alongside.
func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (coordinator.Stores, mcp.TenantResolver, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return coordinator.Stores{}, nil, nil, err
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return coordinator.Stores{}, nil, nil, err
		}
		stores := coordinator.Stores{
			Projects: postgres.NewProjectStore(pool),
			Locks:    postgres.NewLockStore(pool),
			Jobs:     postgres.NewJobStore(pool),
			Events:   postgres.NewEventStore(pool),
		}
		return stores, &pgKeyResolver{pool: pool}, pool.Close, nil

	case "badger":
		db, err := openSQLite(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return coordinator.Stores{}, nil, nil, err
		}
		kv, err := docstore.OpenBadger(cfg.Storage.BadgerPath)
		if err != nil {
			db.Close()
			return coordinator.Stores{}, nil, nil, err
		}
		leaser := docstore.NewLeaser(kv, docstore.LeaserConfig{})
		stores := coordinator.Stores{
			Projects: docstore.NewProjectStore(kv, leaser),
			Locks:    sqlite.NewLockStore(db),
			Jobs:     sqlite.NewJobStore(db),
			Events:   sqlite.NewEventStore(db),
		}
		closeAll := func() {
			if err := kv.Close(); err != nil {
				logger.Error("closing badger", "error", err)
			}
			db.Close()
		}
		return stores, &apiKeyResolver{db: db}, closeAll, nil

	default: // sqlite
		db, err := openSQLite(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return coordinator.Stores{}, nil, nil, err
		}
		stores := coordinator.Stores{
			Projects: sqlite.NewProjectStore(db),
			Locks:    sqlite.NewLockStore(db),
			Jobs:     sqlite.NewJobStore(db),
			Events:   sqlite.NewEventStore(db),
		}
		return stores, &apiKeyResolver{db: db}, func() { db.Close() }, nil
	}
}

func openSQLite(ctx context.Context, path string) (*sqlite.DB, error) {
	if err := ensureDBDir(path); err != nil {
		return nil, err
	}
	db, err := sqlite.New(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openBlobs(ctx context.Context, cfg config.Config) (blob.Store, error) {
	if cfg.Blob.Backend == "gcs" {
		return blob.NewGCS(ctx, cfg.Blob.GCSBucket, cfg.Blob.GCSKeyPath)
	}
	return blob.NewFS(cfg.Blob.FSRoot)
}

func runHTTP(ctx context.Context, cfg config.Config, coord *coordinator.Coordinator, mcpServer *sdkmcp.Server, resolver mcp.TenantResolver, logger *slog.Logger) error {
	streamHandler := stream.NewHandler(coord,
		time.Duration(cfg.Stream.PollMs)*time.Millisecond,
		time.Duration(cfg.Stream.KeepaliveMs)*time.Millisecond,
		logger)

	authMw := transport.NoAuthMiddleware("default")
	if cfg.Auth.Enabled {
		authMw = transport.AuthMiddleware(resolver)
	}
	router := transport.NewRouter(coord, streamHandler, authMw, logger)

	mcpHandler := sdkmcp.NewStreamableHTTPHandler(
		func(r *http.Request) *sdkmcp.Server { return mcpServer },
		&sdkmcp.StreamableHTTPOptions{
			Stateless:      false,
			SessionTimeout: 30 * time.Minute,
		},
	)
	router.Handle("/mcp", mcpHandler)
	router.Handle("/mcp/*", mcpHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("server listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type apiKeyResolver struct {
	db *sqlite.DB
}

func (r *apiKeyResolver) ResolveTenant(ctx context.Context, token string) (string, error) {
	hash := hashToken(token)
	var tenantID string
	err := r.db.QueryRowContext(ctx, `SELECT tenant_id FROM api_keys WHERE key_hash = ?`, hash).Scan(&tenantID)
	if err != nil || tenantID == "" {
		return "", fmt.Errorf("unauthorized: invalid token")
	}
	return tenantID, nil
}

type pgKeyResolver struct {
	pool *postgres.Pool
}

func (r *pgKeyResolver) ResolveTenant(ctx context.Context, token string) (string, error) {
	hash := hashToken(token)
	var tenantID string
	err := r.pool.QueryRow(ctx, `SELECT tenant_id FROM api_keys WHERE key_hash = $1`, hash).Scan(&tenantID)
	if err != nil || tenantID == "" {
		return "", fmt.Errorf("unauthorized: invalid token")
	}
	return tenantID, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

const (
	maxLogSizeBytes  = 6 * 1024 * 1024
	keepLogSizeBytes = 5 * 1024 * 1024
)

// logFileWriter appends to a single log file and truncates it back down to
// keepLogSizeBytes once it crosses maxLogSizeBytes.
type logFileWriter struct {
	path string
	file *os.File
	mu   sync.Mutex
}

func newLogFileWriter(path string) (*logFileWriter, *os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	writer := &logFileWriter{path: path, file: file}
	if err := writer.truncateIfNeeded(); err != nil {
		return nil, nil, err
	}
	return writer, file, nil
}

func (w *logFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	if err != nil {
		return n, err
	}
	if err := w.truncateIfNeeded(); err != nil {
		return n, err
	}
	return n, nil
}

func (w *logFileWriter) truncateIfNeeded() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= maxLogSizeBytes {
		return nil
	}

	buf := make([]byte, keepLogSizeBytes)
	if _, err := w.file.Seek(size-keepLogSizeBytes, io.SeekStart); err != nil {
		return err
	}
	n, err := w.file.Read(buf)
	if err != nil && err != io.EOF {
		return err
	}
	buf = buf[:n]

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(buf); err != nil {
		return err
	}
	_, err = w.file.Seek(0, io.SeekEnd)
	return err
}
