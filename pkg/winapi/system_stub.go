//go:build !windows

package winapi

import "github.com/f0829/moneta/pkg/errors"

// NewSystem fails on non-Windows hosts. The core packages stay buildable
// everywhere so the model and rule engine can be exercised against fakes.
func NewSystem() (System, error) {
	return nil, errors.E(errors.KindUnsupported, "winapi.NewSystem", "live inspection requires windows")
}
