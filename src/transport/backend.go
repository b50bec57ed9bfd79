// Package transport manages MCP transport connections: the upstream
// server facing assistant hosts and client sessions to the backend servers
// whose tool output gets screened.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quietloop/replyscreen/src/config"
)

// BackendConn holds a live client session to a backend MCP server along
// with the config that created it.
type BackendConn struct {
	Name    string
	Session *mcp.ClientSession
	Config  config.BackendConfig
}

// TransportFactory creates a Transport for a given backend config.
// Exists to allow injection of test transports.
type TransportFactory func(config.BackendConfig) (mcp.Transport, error)

// BackendManager manages persistent connections to backend MCP servers
// with health checking and reconnection.
type BackendManager struct {
	mu               sync.RWMutex
	conns            map[string]*BackendConn
	logger           *slog.Logger
	transportFactory TransportFactory

	// cancelHealthCheck stops the background health check goroutine.
	cancelHealthCheck context.CancelFunc
}

// NewBackendManager creates a manager and connects to all configured
// backends. Connections that fail are logged but do not prevent startup;
// they will be retried by health checks.
//
// If transportFactory is nil, the default factory (stdio/HTTP) is used.
func NewBackendManager(ctx context.Context, backends []config.BackendConfig, logger *slog.Logger, transportFactory TransportFactory) (*BackendManager, error) {
	if transportFactory == nil {
		transportFactory = newTransport
	}
	bm := &BackendManager{
		conns:            make(map[string]*BackendConn, len(backends)),
		logger:           logger.With("area", "backend"),
		transportFactory: transportFactory,
	}

	for _, b := range backends {
		conn, err := bm.connect(ctx, b)
		if err != nil {
			bm.logger.Error("failed to connect", "backend", b.Name, "err", err)
			continue
		}
		bm.conns[b.Name] = conn
		bm.logger.Info("connected", "backend", b.Name, "transport", b.Transport)
	}

	if len(bm.conns) == 0 {
		return nil, fmt.Errorf("failed to connect to any backend servers")
	}

	hctx, cancel := context.WithCancel(ctx)
	bm.cancelHealthCheck = cancel
	go bm.healthCheckLoop(hctx, backends)

	return bm, nil
}

// Session returns the active session for a named backend.
// Returns nil if the backend is not connected.
func (bm *BackendManager) Session(name string) *mcp.ClientSession {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	conn, ok := bm.conns[name]
	if !ok {
		return nil
	}
	return conn.Session
}

// Conns returns a snapshot of all active connections.
func (bm *BackendManager) Conns() map[string]*BackendConn {
	bm.mu.RLock()
	defer bm.mu.RUnlock()
	out := make(map[string]*BackendConn, len(bm.conns))
	for k, v := range bm.conns {
		out[k] = v
	}
	return out
}

// Close terminates all backend connections and stops health checks.
func (bm *BackendManager) Close() {
	if bm.cancelHealthCheck != nil {
		bm.cancelHealthCheck()
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	for name, conn := range bm.conns {
		if err := conn.Session.Close(); err != nil {
			bm.logger.Error("error closing session", "backend", name, "err", err)
		}
	}
	bm.conns = make(map[string]*BackendConn)
}

func (bm *BackendManager) connect(ctx context.Context, b config.BackendConfig) (*BackendConn, error) {
	client := mcp.NewClient(
		&mcp.Implementation{
			Name:    "replyscreen",
			Version: Version,
		},
		&mcp.ClientOptions{Logger: bm.logger},
	)

	transport, err := bm.transportFactory(b)
	if err != nil {
		return nil, fmt.Errorf("creating transport for %s: %w", b.Name, err)
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", b.Name, err)
	}

	return &BackendConn{
		Name:    b.Name,
		Session: session,
		Config:  b,
	}, nil
}

func newTransport(b config.BackendConfig) (mcp.Transport, error) {
	switch b.Transport {
	case config.TransportStdio:
		if len(b.Command) == 0 {
			return nil, fmt.Errorf("stdio transport requires a command")
		}
		cmd := exec.Command(b.Command[0], b.Command[1:]...)
		return &mcp.CommandTransport{Command: cmd}, nil

	case config.TransportHTTP:
		if b.URL == "" {
			return nil, fmt.Errorf("http transport requires a url")
		}
		return &mcp.StreamableClientTransport{Endpoint: b.URL}, nil

	default:
		return nil, fmt.Errorf("unsupported transport: %s", b.Transport)
	}
}

const healthCheckInterval = 30 * time.Second

func (bm *BackendManager) healthCheckLoop(ctx context.Context, backends []config.BackendConfig) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	// Index configs by name for reconnection.
	cfgByName := make(map[string]config.BackendConfig, len(backends))
	for _, b := range backends {
		cfgByName[b.Name] = b
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bm.checkAndReconnect(ctx, cfgByName)
		}
	}
}

func (bm *BackendManager) checkAndReconnect(ctx context.Context, cfgs map[string]config.BackendConfig) {
	if ctx.Err() != nil {
		return
	}

	for name, cfg := range cfgs {
		bm.mu.RLock()
		conn, connected := bm.conns[name]
		bm.mu.RUnlock()

		if connected {
			// Ping to verify liveness.
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Session.Ping(pingCtx, &mcp.PingParams{})
			cancel()
			if err == nil {
				continue
			}
			bm.logger.Warn("health check failed, reconnecting", "backend", name, "err", err)
			_ = conn.Session.Close()
		}

		// Attempt reconnection.
		newConn, err := bm.connect(ctx, cfg)
		if err != nil {
			bm.logger.Error("reconnect failed", "backend", name, "err", err)
			bm.mu.Lock()
			delete(bm.conns, name)
			bm.mu.Unlock()
			continue
		}

		bm.mu.Lock()
		bm.conns[name] = newConn
		bm.mu.Unlock()
		bm.logger.Info("reconnected", "backend", name)
	}
}
