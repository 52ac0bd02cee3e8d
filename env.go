package simplegithub

import (
	"fmt"
	"strings"

	"github.com/joeshaw/envdecode"
)

// EnvConfig is populated from the environment by NewFromEnv. Defaults can be
// loaded via envdecode.
type EnvConfig struct {
	// Token is a personal access token. ENV: GITHUB_TOKEN
	Token string `env:"GITHUB_TOKEN"`
	// TokenAlt mirrors the gh CLI convention. ENV: GH_TOKEN
	TokenAlt string `env:"GH_TOKEN"`
	// AppID is the GitHub App id. ENV: GITHUB_APP_ID
	AppID int64 `env:"GITHUB_APP_ID"`
	// PrivateKey is the App key, PEM or base64-wrapped PEM. ENV: GITHUB_APP_PRIVATE_KEY
	PrivateKey string `env:"GITHUB_APP_PRIVATE_KEY"`
	// PrivateKeyFile points at a PEM file, watched for rotation. ENV: GITHUB_APP_PRIVATE_KEY_FILE
	PrivateKeyFile string `env:"GITHUB_APP_PRIVATE_KEY_FILE"`
	// Owner scopes App credentials to that account's installation. ENV: GITHUB_APP_OWNER
	Owner string `env:"GITHUB_APP_OWNER"`
	// Repositories restricts installation tokens, comma separated. ENV: GITHUB_APP_REPOSITORIES
	Repositories string `env:"GITHUB_APP_REPOSITORIES"`
	// InstallationID pins the installation. ENV: GITHUB_APP_INSTALLATION_ID
	InstallationID int64 `env:"GITHUB_APP_INSTALLATION_ID"`
	// BaseURL is the REST endpoint; GitHub Actions sets this. ENV: GITHUB_API_URL
	BaseURL string `env:"GITHUB_API_URL,default=https://api.github.com"`
	// GraphQLURL is the GraphQL endpoint; GitHub Actions sets this. ENV: GITHUB_GRAPHQL_URL
	GraphQLURL string `env:"GITHUB_GRAPHQL_URL,default=https://api.github.com/graphql"`
}

// NewFromEnv builds a client from the environment: a token client when
// GITHUB_TOKEN or GH_TOKEN is set, an App client when GITHUB_APP_ID plus a
// key are set, and an unauthenticated client otherwise. Explicit options
// override the environment. A value that does not parse, such as a
// non-numeric GITHUB_APP_ID, is an error rather than a silent fallback to
// anonymous access.
func NewFromEnv(opts ...Option) (*Client, error) {
	var cfg EnvConfig
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	return newFromEnvConfig(cfg, opts...)
}

func newFromEnvConfig(cfg EnvConfig, opts ...Option) (*Client, error) {
	envOpts := make([]Option, 0, len(opts)+6)
	if cfg.BaseURL != "" {
		envOpts = append(envOpts, WithBaseURL(cfg.BaseURL))
	}
	if cfg.GraphQLURL != "" {
		envOpts = append(envOpts, WithGraphQLURL(cfg.GraphQLURL))
	}

	token := cfg.Token
	if token == "" {
		token = cfg.TokenAlt
	}
	if token != "" {
		return TokenClient(token, append(envOpts, opts...)...)
	}

	if cfg.AppID != 0 {
		if cfg.Owner != "" {
			envOpts = append(envOpts, WithOwner(cfg.Owner))
		}
		if repos := splitRepositories(cfg.Repositories); len(repos) > 0 {
			envOpts = append(envOpts, WithRepositories(repos...))
		}
		if cfg.InstallationID != 0 {
			envOpts = append(envOpts, WithInstallationID(cfg.InstallationID))
		}
		if cfg.PrivateKeyFile != "" {
			envOpts = append(envOpts, WithPrivateKeyFile(cfg.PrivateKeyFile))
		}
		return AppClient(cfg.AppID, []byte(cfg.PrivateKey), append(envOpts, opts...)...)
	}

	return PublicClient(append(envOpts, opts...)...)
}

func splitRepositories(raw string) []string {
	var repos []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			repos = append(repos, r)
		}
	}
	return repos
}
