package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"runtime"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasm-capi/backend"
	"github.com/wippyai/wasm-capi/errors"
)

// AOT package layout:
//
//	"\0aot" | version u32le | target length u32le | target | wasm module
//
// The target is GOOS/GOARCH of the machine that produced the package. Native
// code itself lives in the compilation cache, keyed by the wrapped module.
const aotVersion uint32 = 1

// Target returns the AOT target string for this process.
func Target() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}

// AOTSupported reports whether native compilation is available on this platform.
func AOTSupported() bool {
	switch runtime.GOARCH {
	case "amd64", "arm64":
	default:
		return false
	}
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd", "netbsd", "windows":
		return true
	}
	return false
}

// CompileAOT compiles a bytecode module natively and returns it wrapped as
// an AOT package. When cache is non-nil the native code is stored in it, so
// an engine sharing the cache (or its directory) loads the package without
// recompiling.
func CompileAOT(ctx context.Context, bin []byte, cache wazero.CompilationCache) ([]byte, error) {
	if backend.Classify(bin) != backend.PackageBytecode {
		return nil, errors.InvalidInput(errors.PhaseEncode, "input is not a bytecode module")
	}
	if !AOTSupported() {
		return nil, errors.Unsupported(errors.PhaseEncode, "aot compilation on "+Target())
	}

	cfg := wazero.NewRuntimeConfigCompiler()
	if cache != nil {
		cfg = cfg.WithCompilationCache(cache)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, errors.Load("compile module", err)
	}
	_ = compiled.Close(ctx)

	return wrapAOT(bin, Target()), nil
}

func wrapAOT(bin []byte, target string) []byte {
	var buf bytes.Buffer
	buf.Grow(len(backend.MagicAOT) + 8 + len(target) + len(bin))
	buf.Write(backend.MagicAOT)
	_ = binary.Write(&buf, binary.LittleEndian, aotVersion)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(target)))
	buf.WriteString(target)
	buf.Write(bin)
	return buf.Bytes()
}

// unwrapAOT validates an AOT package header and returns the wrapped module.
func unwrapAOT(pkg []byte) ([]byte, error) {
	if backend.Classify(pkg) != backend.PackageAOT {
		return nil, errors.InvalidData(errors.PhaseLoad, nil, "missing aot magic")
	}
	rest := pkg[len(backend.MagicAOT):]
	if len(rest) < 8 {
		return nil, errors.InvalidData(errors.PhaseLoad, nil, "truncated aot header")
	}
	version := binary.LittleEndian.Uint32(rest)
	if version != aotVersion {
		return nil, errors.InvalidData(errors.PhaseLoad, nil, fmt.Sprintf("aot package version %d, want %d", version, aotVersion))
	}
	n := binary.LittleEndian.Uint32(rest[4:])
	rest = rest[8:]
	if uint64(n) > uint64(len(rest)) {
		return nil, errors.InvalidData(errors.PhaseLoad, nil, "truncated aot target")
	}
	target := string(rest[:n])
	if target != Target() {
		return nil, errors.New(errors.PhaseLoad, errors.KindUnsupported).
			Detail("aot package built for %s, running on %s", target, Target()).
			Build()
	}
	return rest[n:], nil
}
