//go:build !windows

package signing

// NewOracle returns the no-op oracle on platforms without an Authenticode
// verifier; everything classifies as unsigned.
func NewOracle() Oracle {
	return NopOracle{}
}
