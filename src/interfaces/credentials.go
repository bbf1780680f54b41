package interfaces

import (
	"context"

	"market-gateway/src/models"
)

// -----------------------------------------------------------------------------
// ICredentialSource exposes the current upstream credential. The returned
// Generation increases only when the credential content changes.
// -----------------------------------------------------------------------------

type ICredentialSource interface {
	Load(ctx context.Context) (models.MCredential, error)
}

// -----------------------------------------------------------------------------
// IFeedInitializer (re)starts the upstream session with a credential.
// -----------------------------------------------------------------------------

type IFeedInitializer interface {
	Initialize(ctx context.Context, cred models.MCredential) error
}
