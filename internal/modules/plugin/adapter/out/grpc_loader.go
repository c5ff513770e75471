package out

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"

	pluginrpc "plughost/internal/modules/plugin/adapter/out/rpc"
	"plughost/internal/modules/plugin/domain"
	pluginout "plughost/internal/modules/plugin/port/out"
	"plughost/internal/platform/slug"
)

const (
	defaultStartTimeout = 3 * time.Second
	defaultCallTimeout  = 5 * time.Second
)

// GRPCLoader runs compiled plugins as go-plugin subprocesses. Remote entries
// are downloaded into cacheDir before they are started.
type GRPCLoader struct {
	assets   pluginout.AssetHost
	cacheDir string
	logger   hclog.Logger
}

func NewGRPCLoader(assets pluginout.AssetHost, cacheDir string, logger hclog.Logger) *GRPCLoader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &GRPCLoader{assets: assets, cacheDir: cacheDir, logger: logger.Named("grpc")}
}

func (l *GRPCLoader) Import(ctx context.Context, req pluginout.ImportRequest) (pluginout.Module, error) {
	binary, err := l.localBinary(ctx, req)
	if err != nil {
		return nil, err
	}
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  pluginrpc.HandshakeConfig,
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolGRPC},
		Plugins:          pluginrpc.PluginMap(nil),
		Cmd:              exec.Command(binary),
		Managed:          true,
		StartTimeout:     defaultStartTimeout,
		Logger:           l.logger.With("plugin", req.PluginID),
	})
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("start plugin client: %w", err)
	}
	raw, err := rpcClient.Dispense(pluginrpc.PluginMapKey)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("dispense plugin: %w", err)
	}
	typed, ok := raw.(pluginrpc.HostedPluginClient)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("plugin rpc client type mismatch")
	}
	return &grpcModule{client: client, rpc: typed}, nil
}

// localBinary returns a runnable path for the entry, verifying its digest.
func (l *GRPCLoader) localBinary(ctx context.Context, req pluginout.ImportRequest) (string, error) {
	if local, err := FilePath(req.EntryURL); err == nil {
		raw, err := os.ReadFile(local)
		if err != nil {
			return "", fmt.Errorf("read plugin binary: %w", err)
		}
		if err := verifyChecksum(req.Manifest, raw); err != nil {
			return "", err
		}
		return local, nil
	}
	raw, err := fetchEntry(ctx, l.assets, req)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(l.cacheDir, slug.Unique(req.PluginID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create plugin cache dir: %w", err)
	}
	target := filepath.Join(dir, path.Base(req.Manifest.EntryPath()))
	if err := os.WriteFile(target, raw, 0o755); err != nil {
		return "", fmt.Errorf("cache plugin binary: %w", err)
	}
	return target, nil
}

type grpcModule struct {
	client *plugin.Client
	rpc    pluginrpc.HostedPluginClient
}

func (m *grpcModule) Bootstrap(ctx context.Context, bc domain.BootstrapContext) error {
	callCtx, cancel := callContext(ctx, defaultCallTimeout)
	defer cancel()

	meta, err := m.rpc.GetMetadata(callCtx)
	if err != nil {
		return timeoutOr(callCtx, fmt.Errorf("get metadata: %w", err))
	}
	if meta.ID != "" && meta.ID != bc.PluginID {
		return fmt.Errorf("plugin binary reports id %q, expected %q", meta.ID, bc.PluginID)
	}

	req := &pluginrpc.BootstrapRequest{
		PluginID:    bc.PluginID,
		BaseURL:     bc.BaseURL,
		Manifest:    manifestMap(bc.Manifest),
		Permissions: grantedStrings(bc),
	}
	if bc.Session != nil {
		req.User = bc.Session.User()
		req.Config = bc.Session.Config()
	}
	resp, err := m.rpc.Bootstrap(callCtx, req)
	if err != nil {
		return timeoutOr(callCtx, fmt.Errorf("bootstrap: %w", err))
	}
	for _, slot := range resp.ClearSlots {
		bc.Host.ClearSlot(slot)
	}
	for _, r := range resp.Components {
		bc.Host.RegisterComponent(r.Slot, domain.Contribution{Name: r.Name, Props: r.Props})
	}
	for _, r := range resp.Actions {
		bc.Host.RegisterAction(r.Slot, domain.Contribution{Name: r.Name, Props: r.Props})
	}
	return nil
}

func (m *grpcModule) Close() error {
	m.client.Kill()
	return nil
}

func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrPluginTimeout, err)
	}
	return err
}

func callContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := parent.Deadline(); ok {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
