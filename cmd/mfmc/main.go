// Command mfmc is the element assembly compiler: it turns .mfa source files
// into .mfb bytecode modules, and can disassemble a .mfb back to readable
// instructions for inspection.
//
// Usage:
//
//	mfmc compile SRC... -o OUT.mfb --build-tag TAG
//	mfmc disasm MODULE.mfb
//
// Exit codes for compile: 0 success; 2 a source file failed to parse; 3 a
// parsed file failed to resolve (undefined label, bad %Name reference, ...);
// 4 a resolved program failed to encode.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ewal-lang/ewal/manifest"
	"github.com/ewal-lang/ewal/pkg/asm/parser"
	"github.com/ewal-lang/ewal/pkg/asm/resolve"
	"github.com/ewal-lang/ewal/pkg/bytecode"
)

const (
	exitParse   = 2
	exitResolve = 3
	exitEncode  = 4
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "compile":
		err = runCompile(os.Args[2:])
	case "disasm":
		err = runDisasm(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}

	if ce, ok := err.(*compileError); ok {
		fmt.Fprintf(os.Stderr, "mfmc: %v\n", ce.err)
		os.Exit(ce.code)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "mfmc: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mfmc compile SRC... -o OUT.mfb --build-tag TAG")
	fmt.Fprintln(os.Stderr, "       mfmc disasm MODULE.mfb")
}

// compileError carries a stable exit category alongside the underlying
// error, so main can translate it to the right process exit code.
type compileError struct {
	code int
	err  error
}

func (e *compileError) Error() string { return e.err.Error() }

// compileFlags take a value and may legally appear after the positional
// source files, per the "compile SRC... -o OUT.mfb --build-tag TAG" usage.
var compileFlags = map[string]bool{"o": true, "build-tag": true, "C": true}

// splitCompileArgs separates args into the tokens flag.FlagSet should parse
// and the positional source files, since flag.Parse stops consuming at the
// first non-flag token and this command's flags are documented to follow
// the sources rather than precede them.
func splitCompileArgs(args []string) (flagArgs, sources []string) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			sources = append(sources, args[i+1:]...)
			break
		}
		name, hasValue := strings.CutPrefix(a, "--")
		if !hasValue {
			name, hasValue = strings.CutPrefix(a, "-")
		}
		if !hasValue || name == "" {
			sources = append(sources, a)
			continue
		}
		flagArgs = append(flagArgs, a)
		if !strings.Contains(name, "=") && compileFlags[name] && i+1 < len(args) {
			i++
			flagArgs = append(flagArgs, args[i])
		}
	}
	return flagArgs, sources
}

func runCompile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	out := fs.String("o", "", "output .mfb path (single-source compiles only)")
	buildTag := fs.String("build-tag", "", "build tag stamped into the module header")
	root := fs.String("C", ".", "workspace root to search for physics.toml")
	flagArgs, sources := splitCompileArgs(args)
	if err := fs.Parse(flagArgs); err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("compile requires at least one source file")
	}

	mf, _ := manifest.FindAndLoad(*root)

	tag := *buildTag
	if tag == "" && mf != nil {
		tag = mf.Physics.BuildTag
	}

	resolveType := resolve.TypeResolver(func(string) (uint16, bool) { return 0, false })
	if mf != nil {
		resolveType = mf.TypeResolver()
	}

	if len(sources) > 1 && *out != "" {
		return fmt.Errorf("-o is only valid with a single source file; omit it to write alongside each source (or under a physics.toml output directory)")
	}

	g := new(errgroup.Group)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			return compileOne(src, *out, tag, resolveType, mf)
		})
	}
	return g.Wait()
}

func compileOne(src, out, buildTag string, resolveType resolve.TypeResolver, mf *manifest.Manifest) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return &compileError{code: exitParse, err: fmt.Errorf("%s: %w", src, err)}
	}

	elementName := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))

	file, err := parser.Parse(string(data))
	if err != nil {
		return &compileError{code: exitParse, err: fmt.Errorf("%s: %w", src, err)}
	}

	selfType := uint16(0)
	if mf != nil {
		if t, ok := mf.SelfTypeNumber(elementName); ok {
			selfType = t
		}
	}

	prog, err := resolve.Resolve(file, selfType, resolveType)
	if err != nil {
		return &compileError{code: exitResolve, err: fmt.Errorf("%s: %w", src, err)}
	}

	encoded, err := bytecode.Encode(prog, buildTag)
	if err != nil {
		return &compileError{code: exitEncode, err: fmt.Errorf("%s: %w", src, err)}
	}

	dst := out
	if dst == "" {
		dst = defaultOutputPath(src, elementName, mf)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return &compileError{code: exitEncode, err: fmt.Errorf("%s: %w", src, err)}
	}
	if err := os.WriteFile(dst, encoded, 0644); err != nil {
		return &compileError{code: exitEncode, err: fmt.Errorf("%s: %w", src, err)}
	}
	return nil
}

func defaultOutputPath(src, elementName string, mf *manifest.Manifest) string {
	if mf != nil {
		return filepath.Join(mf.OutputDir(), elementName+".mfb")
	}
	return strings.TrimSuffix(src, filepath.Ext(src)) + ".mfb"
}

func runDisasm(args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("disasm requires exactly one module path")
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	mod, err := bytecode.Decode(data)
	if err != nil {
		return err
	}
	fmt.Print(mod.DisassembleWithName(filepath.Base(fs.Arg(0))))
	return nil
}
