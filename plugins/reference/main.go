package main

import (
	"context"
	"fmt"

	pluginrpc "plughost/internal/modules/plugin/adapter/out/rpc"

	"github.com/hashicorp/go-plugin"
)

const pluginID = "reference"

type server struct{}

func (s *server) GetMetadata(_ context.Context, _ *pluginrpc.Empty) (*pluginrpc.Metadata, error) {
	return &pluginrpc.Metadata{ID: pluginID, Name: "Reference", Version: "1.0.0"}, nil
}

func (s *server) Bootstrap(_ context.Context, in *pluginrpc.BootstrapRequest) (*pluginrpc.BootstrapResponse, error) {
	if in.PluginID != pluginID {
		return nil, fmt.Errorf("unexpected plugin id: %s", in.PluginID)
	}
	greeting := "hello"
	if name, ok := in.User["name"].(string); ok && name != "" {
		greeting = "hello " + name
	}
	resp := &pluginrpc.BootstrapResponse{
		ClearSlots: []string{"reference"},
		Components: []pluginrpc.Registration{
			{Slot: "sidebar", Name: "reference-panel", Props: map[string]any{"greeting": greeting, "base": in.BaseURL}},
		},
	}
	for _, p := range in.Permissions {
		if p == "ui:notification" {
			resp.Actions = append(resp.Actions, pluginrpc.Registration{Slot: "toolbar", Name: "reference-notify"})
		}
	}
	return resp, nil
}

func main() {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: pluginrpc.HandshakeConfig,
		Plugins:         pluginrpc.PluginMap(&server{}),
		GRPCServer:      plugin.DefaultGRPCServer,
	})
}
