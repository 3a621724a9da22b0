// Package pcerror defines the error categories shared by the pipeline core.
// Callers classify failures with errors.Is against these sentinels; the
// packages wrap them with fmt.Errorf("%w: ...") to carry detail.
package pcerror

import "errors"

var (
	// ErrConfiguration indicates an invalid or incomplete configuration,
	// such as a missing target table or a requested schema id that does
	// not exist in the catalog.
	ErrConfiguration = errors.New("configuration error")

	// ErrConnectivity indicates a backend session could not be
	// established. It is surfaced to the adapter and never retried here.
	ErrConnectivity = errors.New("connectivity error")

	// ErrFormat indicates malformed data was encountered while
	// materializing or decoding a point stream.
	ErrFormat = errors.New("format error")

	// ErrCapacity indicates a buffer's point count exceeds the configured
	// per-patch capacity.
	ErrCapacity = errors.New("capacity error")

	// ErrState indicates an operation was invoked outside the legal
	// lifecycle order.
	ErrState = errors.New("state error")
)
