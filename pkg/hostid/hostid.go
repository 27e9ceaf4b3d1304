// Package hostid resolves a stable machine identifier so audit records
// can be traced back to the host that produced them.
package hostid

import (
	"github.com/denisbrodbeck/machineid"
)

// ID returns a stable identifier for this machine, hashed with the
// application name so the raw hardware id never leaves the host.
func ID() (string, error) {
	return machineid.ProtectedID("signal-core")
}
