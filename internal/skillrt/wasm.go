package skillrt

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/Djtony707/TITAN/internal/pathguard"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// wasmMemoryPages caps sandbox memory at 64 MiB (64 KiB pages).
const wasmMemoryPages = 1024

// runWasm executes a skill's wasm module with no default capabilities. The
// module reads input on stdin and writes output on stdout. Filesystem
// handles exist only for the manifest's allowed paths, each re-validated
// through Path Guard and mounted read-write under its workspace-relative
// name. There is no network surface at all: a skill that needs NET calls
// back into the Tool Broker through its prompt-side contract, never a raw
// socket.
func runWasm(ctx context.Context, guard *pathguard.Guard, bundleDir string, m *Manifest, input []byte) ([]byte, error) {
	modulePath := filepath.Join(bundleDir, filepath.FromSlash(m.Entrypoint.Target))
	rel, err := filepath.Rel(bundleDir, modulePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, titanerr.New(titanerr.KindSandbox, "skillrt.runWasm", "entrypoint target escapes the bundle")
	}
	wasmBytes, err := os.ReadFile(modulePath)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.runWasm", "read wasm module", err)
	}

	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(wasmMemoryPages).
		WithCloseOnContextDone(true)
	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	defer r.Close(ctx)

	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	fsCfg := wazero.NewFSConfig()
	for _, declared := range m.AllowedPaths {
		canon, err := guard.Resolve(declared)
		if err != nil {
			return nil, err
		}
		fsCfg = fsCfg.WithDirMount(canon, declared)
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName(m.Slug).
		WithStartFunctions("_start").
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithFSConfig(fsCfg)
	// Deliberately absent: WithSysNanotime, WithRandSource, env vars — the
	// sandbox stays deterministic and leaks nothing ambient.

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "skillrt.runWasm", "compile wasm module", err)
	}
	defer compiled.Close(ctx)

	mod, err := r.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, titanerr.Wrap(titanerr.KindTransient, "skillrt.runWasm", "sandbox timed out", ctx.Err())
		}
		return nil, titanerr.Wrap(titanerr.KindSandbox, "skillrt.runWasm",
			"sandbox execution failed: "+stderr.String(), err)
	}
	defer mod.Close(ctx)

	return stdout.Bytes(), nil
}
