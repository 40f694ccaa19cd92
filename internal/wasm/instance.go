package wasm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/wasm-bridge/pkg/protocol"
)

// InstanceManager creates and manages module instances.
type InstanceManager struct {
	runtime   *Runtime
	logger    *zap.Logger
	hostFuncs *HostFunctionsImpl
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, hostFuncs *HostFunctionsImpl, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime:   runtime,
		hostFuncs: hostFuncs,
		logger:    logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, generates UUID).
	InstanceID string
}

// Instance represents an instantiated Wasm module.
type Instance struct {
	module api.Module

	ID        string
	Name      string
	CreatedAt int64

	// Exported functions (cached for performance).
	exports map[string]api.Function
}

// Instantiate creates a new instance from a compiled module, linking the
// host import surface and checking every required export.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = generateUUID()
	}

	m.logger.Info("Instantiating Wasm module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	if err := m.ensureHostModule(ctx); err != nil {
		return nil, err
	}

	// The guest's init export is called by the Host, not as a start function.
	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions()

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	if missing := missingExports(module); len(missing) > 0 {
		_ = module.Close(ctx)
		return nil, &MissingExportError{ModuleName: config.ModuleName, Exports: missing}
	}

	exports := m.cacheExportedFunctions(compiled, module)

	instance := &Instance{
		module:    module,
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now().Unix(),
		exports:   exports,
	}

	m.runtime.StoreInstance(instanceID, module)

	m.logger.Info("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Int("exported_functions", len(exports)),
	)

	return instance, nil
}

// Close closes the instance and releases resources.
func (i *Instance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}

// Function returns a cached export, or nil.
func (i *Instance) Function(name string) api.Function {
	return i.exports[name]
}

func missingExports(module api.Module) []string {
	var missing []string
	for _, name := range protocol.RequiredExports {
		if name == protocol.ExportMemory {
			if module.ExportedMemory(name) == nil {
				missing = append(missing, name)
			}
			continue
		}
		if module.ExportedFunction(name) == nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// cacheExportedFunctions caches references to every exported function.
func (m *InstanceManager) cacheExportedFunctions(compiled *CompiledModule, module api.Module) map[string]api.Function {
	exports := make(map[string]api.Function)

	for name := range compiled.Module.ExportedFunctions() {
		if fn := module.ExportedFunction(name); fn != nil {
			exports[name] = fn
		}
	}

	return exports
}

// ensureHostModule instantiates the import module once per runtime.
func (m *InstanceManager) ensureHostModule(ctx context.Context) error {
	if m.runtime.runtime.Module(protocol.ImportModule) != nil {
		return nil
	}

	hostBuilder := m.runtime.runtime.NewHostModuleBuilder(protocol.ImportModule)
	m.exportHostFunctions(hostBuilder)

	if _, err := hostBuilder.Instantiate(ctx); err != nil {
		return fmt.Errorf("failed to instantiate host module: %w", err)
	}
	return nil
}

// exportHostFunctions registers Go functions for import by Wasm modules.
func (m *InstanceManager) exportHostFunctions(builder wazero.HostModuleBuilder) {
	impl := m.hostFuncs

	builder.NewFunctionBuilder().
		WithFunc(impl.procExit).
		WithParameterNames("code").
		Export(protocol.ImportProcExit)

	builder.NewFunctionBuilder().
		WithFunc(impl.randomFill).
		WithParameterNames("ptr", "length").
		Export(protocol.ImportRandomFill)

	builder.NewFunctionBuilder().
		WithFunc(impl.scatterWrite).
		WithParameterNames("iovs", "iovs_len", "out_count").
		Export(protocol.ImportScatterWrite)

	builder.NewFunctionBuilder().
		WithFunc(impl.outboundSend).
		WithParameterNames("packed_slice").
		Export(protocol.ImportOutboundSend)
}

func generateUUID() string {
	return "inst-" + uuid.NewString()
}
