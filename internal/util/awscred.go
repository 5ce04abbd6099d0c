// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package util

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/tidwall/gjson"
)

// AWS IAM credential file paths (vault-injected in Kubernetes deployments)
const (
	DefaultAWSKeyFile    = "/vault/secrets/awsaccesskey"
	DefaultAWSSecretFile = "/vault/secrets/awssecretkey"

	// SitePasswordEnv allows bypassing Secrets Manager lookups (e.g., smoketests/local).
	// When set (even to an empty string), ResolveSitePassword returns the value directly.
	SitePasswordEnv = "SPMIRROR_PASSWORD" //nolint:gosec // env var name, not a credential
)

// SecretGetter is the subset of the Secrets Manager client used here.
type SecretGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// LoadAWSConfig loads the AWS configuration for region with the following priority:
// 1. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_SESSION_TOKEN)
// 2. AWS SDK default chain (AWS CLI credentials, SSO cache, IAM roles, etc.)
// 3. Vault files (DefaultAWSKeyFile, DefaultAWSSecretFile) - only when neither of the above applies
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}

	if os.Getenv("AWS_ACCESS_KEY_ID") == "" && os.Getenv("AWS_PROFILE") == "" {
		if key, secret, ok := readVaultCredentials(DefaultAWSKeyFile, DefaultAWSSecretFile); ok {
			opts = append(opts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(key, secret, "")))
		}
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("create AWS config: %w", err)
	}
	return awsCfg, nil
}

func readVaultCredentials(keyFile, secretFile string) (string, string, bool) {
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return "", "", false
	}
	secret, err := os.ReadFile(secretFile)
	if err != nil {
		return "", "", false
	}
	k, s := strings.TrimSpace(string(key)), strings.TrimSpace(string(secret))
	return k, s, k != "" && s != ""
}

// GetPasswordFromSecretsManager retrieves the site password from AWS Secrets Manager.
// The secret is either a JSON document with a "password" field or the plain password.
func GetPasswordFromSecretsManager(ctx context.Context, svc SecretGetter, secretName string) (string, error) {
	if secretName == "" {
		return "", fmt.Errorf("secret name is required for Secrets Manager")
	}

	out, err := svc.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretName),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return "", fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret string empty for %s", secretName)
	}

	password := passwordFromSecret(*out.SecretString)
	if password == "" {
		return "", fmt.Errorf("password field empty in secret %s", secretName)
	}
	return password, nil
}

func passwordFromSecret(secret string) string {
	if gjson.Valid(secret) && gjson.Parse(secret).IsObject() {
		return gjson.Get(secret, "password").String()
	}
	return secret
}

// ResolveSitePassword returns the site password. If SitePasswordEnv is set
// (even to an empty string), that value is returned. Otherwise, the password is
// fetched from AWS Secrets Manager using the provided secret and region.
func ResolveSitePassword(ctx context.Context, secretName, region string) (string, error) {
	if pwd, ok := os.LookupEnv(SitePasswordEnv); ok {
		return pwd, nil
	}
	if secretName == "" {
		return "", fmt.Errorf("password is %q but no password secret is configured", "-")
	}
	if region == "" {
		return "", fmt.Errorf("region is required for Secrets Manager")
	}

	awsCfg, err := LoadAWSConfig(ctx, region)
	if err != nil {
		return "", err
	}
	return GetPasswordFromSecretsManager(ctx, secretsmanager.NewFromConfig(awsCfg), secretName)
}
