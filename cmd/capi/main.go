package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasm-capi/backend"
	"github.com/wippyai/wasm-capi/capi"
	"github.com/wippyai/wasm-capi/engine"
)

type options struct {
	mode      backend.Mode
	cacheDir  string
	output    string
	heapPages uint
	verbose   bool
}

func main() {
	var (
		mode        = flag.String("mode", "interp", "Execution mode: interp or aot")
		cacheDir    = flag.String("cache", "", "Directory for the compilation cache")
		heapPages   = flag.Uint("heap", 0, "Maximum pages per linear memory (0 = module limits)")
		output      = flag.String("o", "", "Output file for compile (default <file>.aot)")
		verbose     = flag.Bool("v", false, "Debug logging")
		interactive = flag.Bool("i", false, "Interactive export explorer (run only)")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		usage()
		os.Exit(1)
	}

	m, err := backend.ParseMode(*mode)
	if err != nil {
		fatal(err)
	}
	opts := options{
		mode:      m,
		cacheDir:  *cacheDir,
		heapPages: *heapPages,
		output:    *output,
		verbose:   *verbose,
	}

	ctx := context.Background()
	cmd, file, rest := args[0], args[1], args[2:]
	switch cmd {
	case "inspect":
		err = inspect(ctx, opts, file)
	case "run":
		if *interactive {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				fatal(fmt.Errorf("interactive mode needs a terminal"))
			}
			err = runInteractive(opts, file)
			break
		}
		err = run(ctx, opts, file, rest)
	case "compile":
		err = compile(ctx, opts, file)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: capi [flags] inspect <file>")
	fmt.Fprintln(os.Stderr, "       capi [flags] run <file> [func [args...]]")
	fmt.Fprintln(os.Stderr, "       capi -i [flags] run <file>  (interactive mode)")
	fmt.Fprintln(os.Stderr, "       capi [flags] compile <file.wasm>")
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// open creates the engine and a store, and loads file into it.
func open(ctx context.Context, opts options, file string) (*capi.Engine, *capi.Store, *capi.Module, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read file: %w", err)
	}

	eng, err := capi.NewEngineWithConfig(ctx, capi.Config{
		Mode:             opts.mode,
		CacheDir:         opts.cacheDir,
		MemoryLimitPages: uint32(opts.heapPages),
		Logger:           newLogger(opts.verbose),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create engine: %w", err)
	}
	store, err := capi.NewStore(eng)
	if err != nil {
		eng.Delete(ctx)
		return nil, nil, nil, fmt.Errorf("create store: %w", err)
	}
	mod, err := capi.NewModule(ctx, store, data)
	if err != nil {
		eng.Delete(ctx)
		return nil, nil, nil, fmt.Errorf("load module: %w", err)
	}
	return eng, store, mod, nil
}

func inspect(ctx context.Context, opts options, file string) error {
	eng, _, mod, err := open(ctx, opts, file)
	if err != nil {
		return err
	}
	defer eng.Delete(ctx)

	imports, err := mod.Imports()
	if err != nil {
		return err
	}
	defer imports.Delete()
	exports, err := mod.Exports()
	if err != nil {
		return err
	}
	defer exports.Delete()

	fmt.Printf("Module: %s (%s mode)\n", file, eng.Mode())
	fmt.Printf("\nImports: %d\n", imports.Len())
	for _, it := range imports.Slice() {
		fmt.Printf("  %s.%s: %s\n", it.ModuleName(), it.FieldName(), describe(it.Type()))
	}
	fmt.Printf("\nExports: %d\n", exports.Len())
	for _, et := range exports.Slice() {
		fmt.Printf("  %s: %s\n", et.FieldName(), describe(et.Type()))
	}
	return nil
}

func run(ctx context.Context, opts options, file string, args []string) error {
	eng, store, mod, err := open(ctx, opts, file)
	if err != nil {
		return err
	}
	defer eng.Delete(ctx)

	stubs, err := stubImports(store, mod, os.Stdout)
	if err != nil {
		return err
	}
	inst, err := capi.NewInstance(ctx, store, mod, stubs)
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}

	funcs, err := exportedFuncs(mod)
	if err != nil {
		return err
	}

	name := ""
	if len(args) > 0 {
		name, args = args[0], args[1:]
	} else {
		name = entryPoint(funcs)
		if name == "" {
			fmt.Printf("\nNo function specified and no common entry point found.\n")
			fmt.Printf("Exported functions: %s\n", strings.Join(funcs, ", "))
			return nil
		}
	}

	ext, err := inst.Export(name)
	if err != nil {
		return err
	}
	fn, err := ext.AsFunc()
	if err != nil {
		return err
	}
	ft, err := fn.Type()
	if err != nil {
		return err
	}
	vals, err := parseArgs(ft, args)
	if err != nil {
		return err
	}

	fmt.Printf("Calling %s(%s)...\n", name, formatVals(vals))
	results := make([]capi.Val, fn.ResultArity())
	if err := fn.Call(ctx, vals, results); err != nil {
		return fmt.Errorf("call %s: %w", name, err)
	}
	fmt.Printf("Result: %s\n", formatVals(results))
	return nil
}

func compile(ctx context.Context, opts options, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var cache wazero.CompilationCache
	if opts.cacheDir != "" {
		if cache, err = wazero.NewCompilationCacheWithDir(opts.cacheDir); err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		defer cache.Close(ctx)
	}

	engine.SetLogger(newLogger(opts.verbose))
	pkg, err := engine.CompileAOT(ctx, data, cache)
	if err != nil {
		return err
	}

	out := opts.output
	if out == "" {
		out = strings.TrimSuffix(file, ".wasm") + ".aot"
	}
	if err := os.WriteFile(out, pkg, 0o644); err != nil {
		return fmt.Errorf("write package: %w", err)
	}
	fmt.Printf("Compiled %s for %s -> %s (%d bytes)\n", file, engine.Target(), out, len(pkg))
	return nil
}
