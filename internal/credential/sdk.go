package credential

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/regmirror/regmirror/types/errs"
)

// SDKProvider uses the ambient identity chain of the cloud SDK (environment,
// workload identity, managed identity, cli).
type SDKProvider struct{}

// AccessToken returns a token from the default credential chain.
func (p *SDKProvider) AccessToken(ctx context.Context) (string, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return "", fmt.Errorf("building default credential: %w: %v", errs.ErrExternalDependency, err)
	}
	tok, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{armScope}})
	if err != nil {
		return "", fmt.Errorf("default credential token: %w: %v", errs.ErrExternalDependency, err)
	}
	return tok.Token, nil
}
