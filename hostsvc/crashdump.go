package hostsvc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ewal-lang/ewal/pkg/vm"
)

// writeCrashDump CBOR-encodes fault and writes it to dir/handle.cbor, for
// postmortem inspection outside the JSON FaultSnapshot already returned
// inline from Run. Best-effort: a failure here doesn't fail the RPC that
// triggered it.
func writeCrashDump(dir, handle string, fault *vm.Fault) error {
	data, err := fault.EncodeCBOR()
	if err != nil {
		return fmt.Errorf("encode crash dump: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, handle+".cbor"), data, 0644)
}
