package codefresh

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SaaSBaseURL is the API root of the hosted Codefresh platform.
const SaaSBaseURL = "https://g.codefresh.io/api"

// ErrNoCredentials is returned when neither the environment nor the Codefresh
// CLI config provides an API key and URL.
var ErrNoCredentials = errors.New("no Codefresh credentials found")

// Credentials authenticate calls to the Codefresh API. Headers is sent as is
// on every request.
type Credentials struct {
	BaseURL string
	Headers map[string]string
}

type cliConfig struct {
	Contexts       map[string]cliContext `yaml:"contexts"`
	CurrentContext string                `yaml:"current-context"`
}

type cliContext struct {
	Token string `yaml:"token"`
	URL   string `yaml:"url"`
}

// ResolveCredentials prefers an explicit API key and URL (CF_API_KEY and CF_URL)
// and otherwise reads the current context of the Codefresh CLI config at configPath.
func ResolveCredentials(apiKey, url, configPath string) (Credentials, error) {
	if apiKey != "" && url != "" {
		return newCredentials(apiKey, url), nil
	}

	if configPath == "" {
		return Credentials{}, ErrNoCredentials
	}
	content, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credentials{}, fmt.Errorf("%w: set CF_API_KEY and CF_URL or create %s", ErrNoCredentials, configPath)
		}
		return Credentials{}, fmt.Errorf("reading Codefresh config %s: %w", configPath, err)
	}

	var config cliConfig
	if err := yaml.Unmarshal(content, &config); err != nil {
		return Credentials{}, fmt.Errorf("%w: parsing %s: %v", ErrNoCredentials, configPath, err)
	}

	current, ok := config.Contexts[config.CurrentContext]
	if !ok {
		return Credentials{}, fmt.Errorf("%w: current context %q not found in %s", ErrNoCredentials, config.CurrentContext, configPath)
	}
	if current.Token == "" || current.URL == "" {
		return Credentials{}, fmt.Errorf("%w: context %q has no token or url", ErrNoCredentials, config.CurrentContext)
	}
	return newCredentials(current.Token, current.URL), nil
}

func newCredentials(token, url string) Credentials {
	return Credentials{
		BaseURL: strings.TrimRight(url, "/") + "/api",
		Headers: map[string]string{"Authorization": token},
	}
}

// IsSaaS reports whether the credentials point at the hosted platform.
func IsSaaS(creds Credentials) bool {
	return strings.TrimRight(creds.BaseURL, "/") == SaaSBaseURL
}
