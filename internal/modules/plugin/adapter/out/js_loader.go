package out

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/dop251/goja"
	hclog "github.com/hashicorp/go-hclog"

	"plughost/internal/modules/plugin/domain"
	pluginout "plughost/internal/modules/plugin/port/out"
)

var (
	exportDefault  = regexp.MustCompile(`(?m)^(\s*)export\s+default\s+`)
	exportFunction = regexp.MustCompile(`(?m)^(\s*)export\s+(async\s+)?function\s+([A-Za-z_$][\w$]*)`)
	exportBinding  = regexp.MustCompile(`(?m)^(\s*)export\s+(const|let|var)\s+([A-Za-z_$][\w$]*)\s*=`)
)

// JSLoader evaluates source plugins in an embedded JavaScript runtime. Each
// bootstrap gets a fresh runtime with the PluginSDK global installed.
type JSLoader struct {
	assets pluginout.AssetHost
	logger hclog.Logger
}

func NewJSLoader(assets pluginout.AssetHost, logger hclog.Logger) *JSLoader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &JSLoader{assets: assets, logger: logger.Named("js")}
}

func (l *JSLoader) Import(ctx context.Context, req pluginout.ImportRequest) (pluginout.Module, error) {
	raw, err := fetchEntry(ctx, l.assets, req)
	if err != nil {
		return nil, err
	}
	program, err := goja.Compile(req.EntryURL, wrapModule(string(raw)), false)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", req.EntryURL, err)
	}
	return &jsModule{program: program, logger: l.logger.With("plugin", req.PluginID)}, nil
}

// wrapModule turns ES module exports into assignments on a CommonJS-style
// module object and wraps the body in a function taking (module, exports).
func wrapModule(src string) string {
	src = exportDefault.ReplaceAllString(src, "${1}module.exports.default = ")
	src = exportFunction.ReplaceAllString(src, "${1}module.exports.${3} = ${2}function ${3}")
	src = exportBinding.ReplaceAllString(src, "${1}${2} ${3} = module.exports.${3} =")
	return "(function(module, exports) {\n" + src + "\n})"
}

type jsModule struct {
	program *goja.Program
	logger  hclog.Logger
}

func (m *jsModule) Bootstrap(ctx context.Context, bc domain.BootstrapContext) error {
	vm := goja.New()
	data := bootstrapData(bc)
	if err := m.install(vm, bc, data); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(domain.ErrPluginTimeout)
		case <-done:
		}
	}()

	err := m.run(vm, data)
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("%w: %v", domain.ErrPluginTimeout, ctx.Err())
	}
	return err
}

// Close is a no-op; every bootstrap owns a throwaway runtime.
func (m *jsModule) Close() error {
	return nil
}

func (m *jsModule) run(vm *goja.Runtime, data map[string]any) error {
	factory, err := vm.RunProgram(m.program)
	if err != nil {
		return fmt.Errorf("evaluate module: %w", err)
	}
	call, ok := goja.AssertFunction(factory)
	if !ok {
		return fmt.Errorf("evaluate module: wrapper is not callable")
	}
	module := vm.NewObject()
	exports := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return err
	}
	if _, err := call(goja.Undefined(), module, exports); err != nil {
		return fmt.Errorf("evaluate module: %w", err)
	}

	bootstrap, this := findBootstrap(vm, module.Get("exports"))
	if bootstrap == nil {
		return domain.ErrNoBootstrap
	}
	result, err := bootstrap(this, vm.ToValue(data))
	if err != nil {
		return err
	}
	return settle(result)
}

// findBootstrap accepts a default-exported function, a default-exported
// object with a bootstrap method, or a named bootstrap export.
func findBootstrap(vm *goja.Runtime, exports goja.Value) (goja.Callable, goja.Value) {
	if exports == nil || goja.IsUndefined(exports) || goja.IsNull(exports) {
		return nil, nil
	}
	if fn, ok := goja.AssertFunction(exports); ok {
		return fn, goja.Undefined()
	}
	obj := exports.ToObject(vm)
	if def := obj.Get("default"); def != nil && !goja.IsUndefined(def) && !goja.IsNull(def) {
		if fn, ok := goja.AssertFunction(def); ok {
			return fn, goja.Undefined()
		}
		defObj := def.ToObject(vm)
		if fn, ok := goja.AssertFunction(defObj.Get("bootstrap")); ok {
			return fn, defObj
		}
	}
	if fn, ok := goja.AssertFunction(obj.Get("bootstrap")); ok {
		return fn, obj
	}
	return nil, nil
}

// settle resolves a returned promise; goja drains its job queue when the
// outermost call returns, so a pending promise here can never settle.
func settle(result goja.Value) error {
	if result == nil {
		return nil
	}
	promise, ok := result.Export().(*goja.Promise)
	if !ok {
		return nil
	}
	switch promise.State() {
	case goja.PromiseStateFulfilled:
		return nil
	case goja.PromiseStateRejected:
		return fmt.Errorf("bootstrap rejected: %v", promise.Result())
	default:
		return fmt.Errorf("bootstrap promise never settled")
	}
}

func (m *jsModule) install(vm *goja.Runtime, bc domain.BootstrapContext, data map[string]any) error {
	console := vm.NewObject()
	logFns := map[string]func(string, ...interface{}){
		"log":   m.logger.Info,
		"info":  m.logger.Info,
		"warn":  m.logger.Warn,
		"error": m.logger.Error,
		"debug": m.logger.Debug,
	}
	for name, logFn := range logFns {
		logFn := logFn
		if err := console.Set(name, func(call goja.FunctionCall) goja.Value {
			args := make([]any, 0, len(call.Arguments))
			for _, a := range call.Arguments {
				args = append(args, a.Export())
			}
			logFn("console", "args", args)
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}

	sdk := vm.NewObject()
	register := func(kind domain.ExtensionKind) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			slot := call.Argument(0).String()
			c := contribution(call.Argument(1).Export())
			var ext domain.Extension
			if kind == domain.ExtensionAction {
				ext = bc.Host.RegisterAction(slot, c)
			} else {
				ext = bc.Host.RegisterComponent(slot, c)
			}
			return vm.ToValue(ext.ID)
		}
	}
	fields := map[string]any{
		"registerComponent": register(domain.ExtensionComponent),
		"registerAction":    register(domain.ExtensionAction),
		"clearSlot": func(call goja.FunctionCall) goja.Value {
			bc.Host.ClearSlot(call.Argument(0).String())
			return goja.Undefined()
		},
		"resolveUrl": func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(bc.Host.ResolveURL(call.Argument(0).String()))
		},
		"hasPermission": func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(bc.Host.HasPermission(domain.Permission(call.Argument(0).String())))
		},
		"context": data,
	}
	for name, value := range fields {
		if err := sdk.Set(name, value); err != nil {
			return err
		}
	}
	window := vm.NewObject()
	if err := window.Set("PluginSDK", sdk); err != nil {
		return err
	}
	for name, value := range map[string]any{"console": console, "PluginSDK": sdk, "window": window} {
		if err := vm.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// contribution accepts a bare name or an object with name and props.
func contribution(v any) domain.Contribution {
	switch t := v.(type) {
	case string:
		return domain.Contribution{Name: t}
	case map[string]any:
		c := domain.Contribution{}
		if name, ok := t["name"].(string); ok {
			c.Name = name
		}
		if props, ok := t["props"].(map[string]any); ok {
			c.Props = props
		}
		return c
	default:
		return domain.Contribution{}
	}
}

// bootstrapData is the plain context object every runtime receives.
func bootstrapData(bc domain.BootstrapContext) map[string]any {
	data := map[string]any{
		"pluginId":    bc.PluginID,
		"baseUrl":     bc.BaseURL,
		"manifest":    manifestMap(bc.Manifest),
		"permissions": grantedStrings(bc),
	}
	if bc.Session != nil {
		data["user"] = bc.Session.User()
		data["config"] = bc.Session.Config()
	}
	return data
}
