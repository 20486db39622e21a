// SPDX-License-Identifier: LGPL-3.0-or-later

package domain

import "github.com/google/uuid"

func newID() string {
	return uuid.New().String()
}

// NewLeaseToken mints a server-side lease identifier handed to the caller
// of Acquire; Release must present it (or an operator override) to release
// the VM it names.
func NewLeaseToken() string {
	return "lease-" + newID()
}
