// Package creds imports safe credentials from a local JSON file or an AWS
// Secrets Manager secret.
//
// Two shapes are accepted. A single safe:
//
//	{"accessKey": "...", "secretKey": "...", "containerName": "...", "backend": "s3"}
//
// or several safes keyed by name, from which one is picked:
//
//	{"safes": {"prod": {"accessKey": "...", ...}, "staging": {...}}}
package creds

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/TheMichaelB/safe/internal/models"
)

// SafeCredentials is the importable part of a safe descriptor.
type SafeCredentials struct {
	AccessKey     string `json:"accessKey"`
	SecretKey     string `json:"secretKey"`
	ContainerName string `json:"containerName"`
	Backend       string `json:"backend,omitempty"`
	Region        string `json:"region,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
}

// Descriptor names the credentials as a safe.
func (c SafeCredentials) Descriptor(name string) models.SafeDescriptor {
	return models.SafeDescriptor{
		Name:          name,
		AccessKey:     c.AccessKey,
		SecretKey:     c.SecretKey,
		ContainerName: c.ContainerName,
		Backend:       c.Backend,
		Region:        c.Region,
		Endpoint:      c.Endpoint,
	}
}

type document struct {
	SafeCredentials
	Safes map[string]SafeCredentials `json:"safes"`
}

// Parse extracts the credentials for safe name from JSON bytes. A document
// with a "safes" map must contain name; a single-safe document applies to
// any name.
func Parse(data []byte, name string) (*SafeCredentials, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	if len(doc.Safes) > 0 {
		c, ok := doc.Safes[name]
		if !ok {
			names := make([]string, 0, len(doc.Safes))
			for n := range doc.Safes {
				names = append(names, n)
			}
			sort.Strings(names)
			return nil, fmt.Errorf("credentials for safe %q not found (have: %s)", name, strings.Join(names, ", "))
		}
		return &c, nil
	}

	if doc.AccessKey == "" && doc.SecretKey == "" && doc.ContainerName == "" {
		return nil, fmt.Errorf("credentials document is empty")
	}
	c := doc.SafeCredentials
	return &c, nil
}

// LoadFromFile loads credentials from a local file path.
func LoadFromFile(path, name string) (*SafeCredentials, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	return Parse(b, name)
}

// LoadFromSecret loads credentials from Secrets Manager by name or ARN,
// using the caller's ambient AWS configuration.
func LoadFromSecret(ctx context.Context, secretID, region, name string) (*SafeCredentials, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	sm := secretsmanager.NewFromConfig(cfg)
	out, err := sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &secretID})
	if err != nil {
		return nil, fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret has no string payload")
	}
	return Parse([]byte(*out.SecretString), name)
}
