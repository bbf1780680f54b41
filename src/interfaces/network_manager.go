package interfaces

import "context"

// -----------------------------------------------------------------------------
// INetworkManager defines the contract for authenticated upstream REST calls.
// -----------------------------------------------------------------------------

type INetworkManager interface {

	// -----------------------------------------------------------------------------

	// Get performs a GET request to the specified URL with parameters, sending
	// bearer as the Authorization token when non-empty.
	// Returns the response body as bytes or an error.
	Get(ctx context.Context, url string, params map[string]string, bearer string) ([]byte, error)
}
