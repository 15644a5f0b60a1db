package hostsvc

import (
	"context"
	"fmt"
	"math/rand"
	"os"

	"connectrpc.com/connect"

	"github.com/ewal-lang/ewal/pkg/bytecode"
	"github.com/ewal-lang/ewal/pkg/value"
	"github.com/ewal-lang/ewal/pkg/vm"
	"github.com/ewal-lang/ewal/pkg/window"
)

// HostService implements the two Host<->VM RPCs: Load a module once, then
// Run activations against it, each against a caller-supplied window and
// register snapshot. This mirrors the Host interface the in-process Engine
// is handed (pkg/window.Host); here the wire carries what an in-process
// caller would hold in memory.
type HostService struct {
	modules      *ModuleStore
	crashDumpDir string // empty disables crash-dump writing
}

// NewHostService creates a HostService with its own module registry.
func NewHostService() *HostService {
	return &HostService{modules: NewModuleStore()}
}

// SetCrashDumpDir enables CBOR crash-dump files under dir for every Run
// call that faults. Pass "" to disable (the default).
func (s *HostService) SetCrashDumpDir(dir string) {
	s.crashDumpDir = dir
}

// Load decodes program bytes and returns a handle for subsequent Run calls.
func (s *HostService) Load(
	ctx context.Context,
	req *connect.Request[LoadRequest],
) (*connect.Response[LoadResponse], error) {
	if len(req.Msg.ProgramBytes) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("program_bytes is required"))
	}

	mod, err := bytecode.Decode(req.Msg.ProgramBytes)
	if err != nil {
		return connect.NewResponse(&LoadResponse{Error: err.Error()}), nil
	}

	handle := s.modules.Create(mod)
	return connect.NewResponse(&LoadResponse{Handle: handle}), nil
}

// Run executes one activation of a loaded module against the given window
// and register snapshot, seeded so the run is reproducible across the wire.
func (s *HostService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	mod, ok := s.modules.Lookup(req.Msg.Handle)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("handle %q not found", req.Msg.Handle))
	}

	// ResolveType on window.Host exists for the Engine's Host contract but
	// is never called at runtime: %Name type references are already
	// resolved to numbers by the time a module is compiled (pkg/asm/resolve).
	noResolve := func(string) (uint16, bool) { return 0, false }
	host, err := newSnapshotHost(req.Msg.Window, seededRand96(req.Msg.Seed), noResolve)
	if err != nil {
		return connect.NewResponse(&RunResponse{Error: err.Error()}), nil
	}

	regs, err := registersFromSnapshot(req.Msg.Registers)
	if err != nil {
		return connect.NewResponse(&RunResponse{Error: err.Error()}), nil
	}

	win := window.New(host)
	engine := vm.New(mod, win, regs)
	state := engine.Run(req.Msg.Budget)

	if fault := engine.Fault(); fault != nil && s.crashDumpDir != "" {
		if err := writeCrashDump(s.crashDumpDir, req.Msg.Handle, fault); err != nil {
			fmt.Fprintf(os.Stderr, "hostsvc: crash dump for %s: %v\n", req.Msg.Handle, err)
		}
	}

	return connect.NewResponse(&RunResponse{
		State:     state.String(),
		Window:    host.snapshot(),
		Registers: registersToSnapshot(regs),
		Fault:     faultToSnapshot(engine.Fault()),
	}), nil
}

// seededRand96 returns a Rand96 function backed by a PRNG seeded from seed,
// so a Run call is byte-for-byte reproducible given the same seed and
// activation inputs.
func seededRand96(seed uint64) func() value.Value {
	src := rand.New(rand.NewSource(int64(seed)))
	return func() value.Value {
		var b [12]byte
		src.Read(b[:])
		return value.FromBytes12(b, value.Unsigned)
	}
}
