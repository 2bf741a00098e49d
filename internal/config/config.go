package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configFileDirectory = ".sdaf-wizard"
	configFileName      = "config.yaml"

	DefaultServerURL = "https://github.com"
)

type Config struct {
	GitHub      GitHub      `yaml:"github"`
	Azure       Azure       `yaml:"azure"`
	Retry       Retry       `yaml:"retry"`
	Equivalence Equivalence `yaml:"equivalence"`
}

type GitHub struct {
	Token     string `yaml:"token"`
	ServerURL string `yaml:"server_url"`
	// APIURL is only set for GitHub Enterprise Server.
	APIURL string `yaml:"api_url"`
}

type Azure struct {
	ServicePrincipalRoles []string `yaml:"service_principal_roles"`
	ManagedIdentityRoles  []string `yaml:"managed_identity_roles"`
	// ClientSecret makes the service principal step mint a client secret that
	// is published as the AZURE_CLIENT_SECRET environment secret.
	ClientSecret bool `yaml:"client_secret"`
}

type Retry struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// Equivalence decides when an already existing resource counts as the one a
// step would have created.
type Equivalence struct {
	FederatedCredential FederatedCredentialEquivalence `yaml:"federated_credential"`
	Application         ApplicationEquivalence         `yaml:"application"`
	ManagedIdentity     ManagedIdentityEquivalence     `yaml:"managed_identity"`
}

type FederatedCredentialEquivalence struct {
	CompareIssuer    bool `yaml:"compare_issuer"`
	CompareSubject   bool `yaml:"compare_subject"`
	CompareAudiences bool `yaml:"compare_audiences"`
	// AdoptMatchingSubject adopts a credential stored under another name when
	// issuer and subject match, since Entra ID rejects a duplicate pair anyway.
	AdoptMatchingSubject bool `yaml:"adopt_matching_subject"`
}

type ApplicationEquivalence struct {
	AdoptExisting bool `yaml:"adopt_existing"`
}

type ManagedIdentityEquivalence struct {
	RequireLocation bool `yaml:"require_location"`
}

func Default() Config {
	return Config{
		GitHub: GitHub{
			ServerURL: DefaultServerURL,
		},
		Azure: Azure{
			ServicePrincipalRoles: []string{
				"Contributor",
				"User Access Administrator",
			},
			ManagedIdentityRoles: []string{
				"Contributor",
				"Role Based Access Control Administrator",
				"Storage Blob Data Owner",
				"Key Vault Administrator",
				"App Configuration Data Owner",
			},
		},
		Retry: Retry{
			MaxAttempts:  5,
			InitialDelay: 2 * time.Second,
			MaxDelay:     30 * time.Second,
		},
		Equivalence: Equivalence{
			FederatedCredential: FederatedCredentialEquivalence{
				CompareIssuer:        true,
				CompareSubject:       true,
				CompareAudiences:     true,
				AdoptMatchingSubject: true,
			},
			Application: ApplicationEquivalence{
				AdoptExisting: true,
			},
			ManagedIdentity: ManagedIdentityEquivalence{
				RequireLocation: true,
			},
		},
	}
}

// Path returns the location of the config file in the user's home directory.
func Path() (string, error) {
	dirname, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return path.Join(dirname, configFileDirectory, configFileName), nil
}

// Load reads the config file at configPath on top of the defaults. A missing
// file yields the defaults. GITHUB_TOKEN overrides the configured token.
func Load(configPath string) (Config, error) {
	cfg := Default()

	configFile, err := os.ReadFile(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(configFile, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	}
	if cfg.GitHub.ServerURL == "" {
		cfg.GitHub.ServerURL = DefaultServerURL
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialDelay <= 0 {
		return fmt.Errorf("retry.initial_delay must be positive, got %s", c.Retry.InitialDelay)
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry.max_delay (%s) must not be lower than retry.initial_delay (%s)", c.Retry.MaxDelay, c.Retry.InitialDelay)
	}
	if len(c.Azure.ServicePrincipalRoles) == 0 && len(c.Azure.ManagedIdentityRoles) == 0 {
		return errors.New("at least one Azure role must be configured")
	}
	return nil
}
