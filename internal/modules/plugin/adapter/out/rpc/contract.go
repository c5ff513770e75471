package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	PluginMapKey      = "plughost"
	serviceName       = "plughost.plugin.v1.HostedPlugin"
	jsonCodecName     = "json"
	methodGetMetadata = "/" + serviceName + "/GetMetadata"
	methodBootstrap   = "/" + serviceName + "/Bootstrap"
)

var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PLUGHOST_PLUGIN",
	MagicCookieValue: "plughost",
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type Empty struct{}

type Metadata struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

type BootstrapRequest struct {
	PluginID    string         `json:"plugin_id"`
	BaseURL     string         `json:"base_url"`
	Manifest    map[string]any `json:"manifest"`
	User        map[string]any `json:"user,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Permissions []string       `json:"permissions"`
}

// Registration is one contribution a compiled plugin asks the host to make.
type Registration struct {
	Slot  string         `json:"slot"`
	Name  string         `json:"name"`
	Props map[string]any `json:"props,omitempty"`
}

// BootstrapResponse is applied in order: cleared slots, then components,
// then actions.
type BootstrapResponse struct {
	ClearSlots []string       `json:"clear_slots,omitempty"`
	Components []Registration `json:"components,omitempty"`
	Actions    []Registration `json:"actions,omitempty"`
}

type HostedPluginServer interface {
	GetMetadata(ctx context.Context, in *Empty) (*Metadata, error)
	Bootstrap(ctx context.Context, in *BootstrapRequest) (*BootstrapResponse, error)
}

type HostedPluginClient interface {
	GetMetadata(ctx context.Context) (*Metadata, error)
	Bootstrap(ctx context.Context, in *BootstrapRequest) (*BootstrapResponse, error)
}

type hostedPluginClient struct {
	conn *grpc.ClientConn
}

func NewHostedPluginClient(conn *grpc.ClientConn) HostedPluginClient {
	return &hostedPluginClient{conn: conn}
}

func (c *hostedPluginClient) GetMetadata(ctx context.Context) (*Metadata, error) {
	out := &Metadata{}
	if err := c.conn.Invoke(ctx, methodGetMetadata, &Empty{}, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *hostedPluginClient) Bootstrap(ctx context.Context, in *BootstrapRequest) (*BootstrapResponse, error) {
	out := &BootstrapResponse{}
	if err := c.conn.Invoke(ctx, methodBootstrap, in, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func RegisterHostedPluginServer(server grpc.ServiceRegistrar, impl HostedPluginServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*HostedPluginServer)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "GetMetadata",
				Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
					in := &Empty{}
					if err := dec(in); err != nil {
						return nil, err
					}
					if interceptor == nil {
						return impl.GetMetadata(ctx, in)
					}
					info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetMetadata}
					handler := func(ctx context.Context, req any) (any, error) {
						empty, ok := req.(*Empty)
						if !ok {
							return nil, fmt.Errorf("invalid request type")
						}
						return impl.GetMetadata(ctx, empty)
					}
					return interceptor(ctx, in, info, handler)
				},
			},
			{
				MethodName: "Bootstrap",
				Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
					in := &BootstrapRequest{}
					if err := dec(in); err != nil {
						return nil, err
					}
					if interceptor == nil {
						return impl.Bootstrap(ctx, in)
					}
					info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodBootstrap}
					handler := func(ctx context.Context, req any) (any, error) {
						inReq, ok := req.(*BootstrapRequest)
						if !ok {
							return nil, fmt.Errorf("invalid request type")
						}
						return impl.Bootstrap(ctx, inReq)
					}
					return interceptor(ctx, in, info, handler)
				},
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "plughost/plugin/v1/hosted_plugin.proto",
	}, impl)
}

type GRPCPlugin struct {
	plugin.NetRPCUnsupportedPlugin
	Impl HostedPluginServer
}

func (p *GRPCPlugin) GRPCServer(_ *plugin.GRPCBroker, server *grpc.Server) error {
	RegisterHostedPluginServer(server, p.Impl)
	return nil
}

func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *plugin.GRPCBroker, conn *grpc.ClientConn) (any, error) {
	return NewHostedPluginClient(conn), nil
}

func PluginMap(impl HostedPluginServer) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{
		PluginMapKey: &GRPCPlugin{Impl: impl},
	}
}
