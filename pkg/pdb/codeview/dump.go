package codeview

import (
	"encoding/hex"
	"fmt"
)

// maxDump caps how much of a record is rendered into a diagnostic.
const maxDump = 256

// Dump renders b as hex and ASCII columns for diagnostics.
func Dump(b []byte) string {
	if len(b) > maxDump {
		return hex.Dump(b[:maxDump]) + fmt.Sprintf("... %d more bytes\n", len(b)-maxDump)
	}
	return hex.Dump(b)
}
