package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattiam/batchanalysis/internal/config"
	"github.com/lattiam/batchanalysis/internal/deployment"
	"github.com/lattiam/batchanalysis/internal/mocks"
	"github.com/lattiam/batchanalysis/internal/policy"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommandStructure(t *testing.T) {
	cmd := newRootCommand()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"deploy", "destroy", "submit", "policy", "serve", "config"} {
		assert.Contains(t, names, want)
	}

	destroy, _, err := cmd.Find([]string{"destroy"})
	require.NoError(t, err)
	assert.NotNil(t, destroy.Flags().Lookup("delete-bucket"))

	submitCmd, _, err := cmd.Find([]string{"submit"})
	require.NoError(t, err)
	for _, flag := range []string{"type", "job-queue", "job-definition", "bucket", "prompt-config-ref", "submission-role"} {
		assert.NotNil(t, submitCmd.Flags().Lookup(flag), "submit is missing --%s", flag)
	}
	assert.Equal(t, "Create", submitCmd.Flags().Lookup("type").DefValue)

	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	assert.NotNil(t, serve.Flags().Lookup("port"))
	assert.NotNil(t, serve.Flags().Lookup("submission-role"))
}

func TestLoadStandardConfig(t *testing.T) {
	t.Setenv(config.EnvStack, "nightly")
	t.Setenv(config.EnvRegion, "eu-west-1")
	t.Setenv(config.EnvSubnetIDs, "subnet-a, subnet-b")
	t.Setenv(config.EnvStateStore, "file")
	t.Setenv(config.EnvStatePath, "/tmp/tokens/../tokens")

	cfg, err := loadStandardConfig()
	require.NoError(t, err)

	assert.Equal(t, "nightly", cfg.Stack)
	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, []string{"subnet-a", "subnet-b"}, cfg.Compute.SubnetIDs)
	assert.Equal(t, "/tmp/tokens", cfg.StateStore.Path)
}

func TestLoadStandardConfigRejectsBadNumbers(t *testing.T) {
	t.Setenv(config.EnvMemoryMiB, "lots")

	_, err := loadStandardConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config from environment")
}

func TestConfigShow(t *testing.T) {
	t.Setenv(config.EnvStack, "nightly")
	t.Setenv(config.EnvAppName, "reviewer")

	t.Run("json", func(t *testing.T) {
		out, err := executeRoot(t, "config", "show")
		require.NoError(t, err)

		var shown config.Config
		require.NoError(t, json.Unmarshal([]byte(out), &shown))
		assert.Equal(t, "nightly", shown.Stack)
		assert.Equal(t, "reviewer", shown.Deployment.AppName)
		assert.Equal(t, config.DefaultImage, shown.Compute.Image)
	})

	t.Run("table", func(t *testing.T) {
		out, err := executeRoot(t, "config", "show", "--format", "table")
		require.NoError(t, err)
		assert.Contains(t, out, "SETTING")
		assert.Regexp(t, `BATCHANALYSIS_STACK\s+nightly`, out)
		assert.Regexp(t, `BATCHANALYSIS_APP_NAME\s+reviewer`, out)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := executeRoot(t, "config", "show", "--format", "yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown format: yaml")
	})
}

func TestConfigValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		out, err := executeRoot(t, "config", "validate")
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration is valid")
	})

	t.Run("bad state store", func(t *testing.T) {
		t.Setenv(config.EnvStateStore, "etcd")
		_, err := executeRoot(t, "config", "validate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid state store type: etcd")
	})

	t.Run("deploy settings missing", func(t *testing.T) {
		_, err := executeRoot(t, "config", "validate", "--deploy")
		require.Error(t, err)
		assert.ErrorIs(t, err, deployment.ErrInvalidInput)
		assert.Contains(t, err.Error(), config.EnvAppName)
	})
}

func TestSubmitRejectsUnknownEventType(t *testing.T) {
	var out bytes.Buffer
	err := runSubmit(&out, submitFlags{eventType: "poetry"})
	require.Error(t, err)
	assert.ErrorIs(t, err, deployment.ErrInvalidInput)
	assert.Empty(t, out.String())
}

func TestSubmissionRoleARN(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.Stack = "nightly"

	arn, err := submissionRoleARN(context.Background(), cfg, mocks.NewIdentity(), "")
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:iam::123456789012:role/nightly-submit-job", arn)

	override := "arn:aws:iam::210987654321:role/shared-submit"
	arn, err = submissionRoleARN(context.Background(), cfg, &mocks.Identity{Err: errors.New("expired")}, override)
	require.NoError(t, err)
	assert.Equal(t, override, arn)

	_, err = submissionRoleARN(context.Background(), cfg, &mocks.Identity{Err: errors.New("expired")}, "")
	assert.ErrorContains(t, err, "expired")
}

func TestCollectEnvVars(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.Compute.SubnetIDs = []string{"subnet-a", "subnet-b"}
	vars := collectEnvVars(reflect.ValueOf(*cfg))

	byName := make(map[string]envVar, len(vars))
	for _, v := range vars {
		_, dup := byName[v.name]
		assert.False(t, dup, "duplicate env var %s", v.name)
		byName[v.name] = v
	}

	for _, name := range []string{
		config.EnvStack, config.EnvRegion, config.EnvAppRoleARN, config.EnvSSHKeyName,
		config.EnvBucket, config.EnvEphemeralGiB, config.EnvCompensate, config.EnvRedisURL, config.EnvPort,
	} {
		assert.Contains(t, byName, name)
	}
	for name := range byName {
		assert.True(t, strings.HasPrefix(name, "BATCHANALYSIS_"), name)
	}

	assert.Equal(t, "subnet-a,subnet-b", byName[config.EnvSubnetIDs].value)
	assert.Equal(t, "Memory Mi B", byName[config.EnvMemoryMiB].description)
	assert.Equal(t, config.DefaultStack, byName[config.EnvStack].value)
}

func TestCamelCaseToWords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"Stack", []string{"Stack"}},
		{"AppName", []string{"App", "Name"}},
		{"EphemeralStorageGiB", []string{"Ephemeral", "Storage", "Gi", "B"}},
		{"", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, camelCaseToWords(tt.in), tt.in)
	}
}

func TestPolicyReport(t *testing.T) {
	t.Parallel()

	exec := policy.RolePolicy{
		RoleName:  "nightly-job-execution",
		Principal: policy.ExecutionPrincipal,
		Document:  policy.NewDocument(policy.Allow("Logs", []string{"logs:PutLogEvents"}, "*")),
	}
	submission := policy.RolePolicy{
		RoleName:        "nightly-submit-job",
		Principal:       policy.SubmissionPrincipal,
		TrustedAccounts: []string{"arn:aws:iam::123456789012:root"},
		Document:        policy.NewDocument(),
	}

	var out bytes.Buffer
	require.NoError(t, writeIndented(&out, policyReport(exec, submission)))

	var decoded map[string]rolePolicyReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "nightly-job-execution", decoded["execution"].Role)
	assert.Equal(t, policy.SubmissionPrincipal, decoded["submission"].Principal)
	assert.Equal(t, []string{"arn:aws:iam::123456789012:root"}, decoded["submission"].TrustedAccounts)
	assert.Empty(t, decoded["execution"].TrustedAccounts)
	assert.True(t, decoded["execution"].Policy.Allows("logs:PutLogEvents"))
	assert.Contains(t, out.String(), "\n  \"execution\"")
}

func TestStoreConfig(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.StateStore.Type = "redis"
	cfg.StateStore.RedisURL = "redis://localhost:6379/0"

	sc := storeConfig(cfg, nil)
	assert.Equal(t, "redis", sc.Backend)
	assert.Equal(t, "redis://localhost:6379/0", sc.RedisURL)
	assert.Nil(t, sc.DynamoDB)
}
