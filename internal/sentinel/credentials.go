package sentinel

import (
	"fmt"
	"os"
)

const (
	DefaultTokenURL   = "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"
	DefaultProcessURL = "https://sh.dataspace.copernicus.eu/api/v1/process"
)

type Credentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// CredentialsFromEnv reads SENTINELHUB_CLIENT_ID and SENTINELHUB_CLIENT_SECRET.
// SENTINELHUB_TOKEN_URL falls back to the CDSE identity endpoint.
func CredentialsFromEnv() (Credentials, error) {
	c := Credentials{
		ClientID:     os.Getenv("SENTINELHUB_CLIENT_ID"),
		ClientSecret: os.Getenv("SENTINELHUB_CLIENT_SECRET"),
		TokenURL:     os.Getenv("SENTINELHUB_TOKEN_URL"),
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	return c, c.validate()
}

func (c Credentials) validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("%w: SENTINELHUB_CLIENT_ID and SENTINELHUB_CLIENT_SECRET must be set", ErrConfiguration)
	}
	if c.TokenURL == "" {
		return fmt.Errorf("%w: token url is empty", ErrConfiguration)
	}
	return nil
}

// ProcessURLFromEnv honours SENTINELHUB_PROCESS_URL for alternative deployments.
func ProcessURLFromEnv() string {
	if u := os.Getenv("SENTINELHUB_PROCESS_URL"); u != "" {
		return u
	}
	return DefaultProcessURL
}
