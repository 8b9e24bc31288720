package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/regmirror/regmirror/types/errs"
	"github.com/sirupsen/logrus"
)

// aksConfigPath is the well-known location of the node's cloud provider
// config on an AKS host.
const aksConfigPath = "/etc/kubernetes/azure.json"

// AKSConfig is the subset of /etc/kubernetes/azure.json the mirror needs to
// mint a token.
type AKSConfig struct {
	// Cloud is the current cloud environment.
	Cloud string `json:"cloud"`
	// TenantIDField is the AAD tenant id.
	TenantIDField string `json:"tenantId"`
	// AADClientID is the service principal client id.
	AADClientID string `json:"aadClientId"`
	// AADClientSecret is the service principal client secret.
	AADClientSecret string `json:"aadClientSecret"`
	// UseManagedIdentityExtension selects the IMDS path over the service
	// principal path.
	UseManagedIdentityExtension bool `json:"useManagedIdentityExtension"`
	// UserAssignedIdentityID is the client id of the user assigned identity.
	UserAssignedIdentityID string `json:"userAssignedIdentityID"`

	log *logrus.Logger
}

// LoadAKSConfig reads the AKS config file. A missing file is a recoverable
// error, the chain moves on to the next provider.
func LoadAKSConfig(path string) (*AKSConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errs.Recoverable("AKS config file does not exist, will try an alternative access provider")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w: %v", path, errs.ErrSystemEnvironment, err)
	}
	cfg := AKSConfig{}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w: %v", path, errs.ErrDataFormat, err)
	}
	return &cfg, nil
}

// TenantID returns the tenant this config is bound to.
func (c *AKSConfig) TenantID() string {
	return c.TenantIDField
}

// AccessToken returns a token based on the node's configuration. The managed
// identity extension routes through IMDS, a service principal secret goes
// directly to the cloud's authority host, anything else cannot produce a
// token.
func (c *AKSConfig) AccessToken(ctx context.Context) (string, error) {
	if c.UseManagedIdentityExtension {
		imds := NewIMDSProvider().WithClientID(c.UserAssignedIdentityID)
		return imds.AccessToken(ctx)
	}
	if c.AADClientID != "" && c.AADClientSecret != "" {
		cred, err := azidentity.NewClientSecretCredential(c.TenantIDField, c.AADClientID, c.AADClientSecret,
			&azidentity.ClientSecretCredentialOptions{
				ClientOptions: azcore.ClientOptions{Cloud: authorityFor(c.Cloud)},
			})
		if err != nil {
			return "", fmt.Errorf("building client secret credential: %w: %v", errs.ErrExternalDependency, err)
		}
		tok, err := cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{armScope}})
		if err != nil {
			return "", fmt.Errorf("client secret token: %w: %v", errs.ErrExternalDependency, err)
		}
		return tok.Token, nil
	}
	return "", errs.InvalidOperation("AKS config does not have enough information to create an access token")
}

// authorityFor maps the config's cloud name to the matching authority host,
// defaulting to public Azure.
func authorityFor(cloudName string) cloud.Configuration {
	switch cloudName {
	case "AzureChinaCloud":
		return cloud.AzureChina
	case "AzureUSGovernment":
		return cloud.AzureGovernment
	case "AzureGermanCloud":
		return cloud.Configuration{ActiveDirectoryAuthorityHost: "https://login.microsoftonline.de/"}
	default:
		return cloud.AzurePublic
	}
}
