// Package secrets resolves named secrets from the environment.
// Names use kebab-case and are mapped to uppercase env vars, e.g.
// "strava-client-id" becomes STRAVA_CLIENT_ID.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

type SecretsAdapter struct{}

func (s *SecretsAdapter) GetSecret(ctx context.Context, name string) (string, error) {
	envVarName := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	value := os.Getenv(envVarName)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not found", envVarName)
	}
	return value, nil
}
