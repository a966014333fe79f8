// Package config holds the operator configuration for deploying and triggering the
// analysis job pipeline
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lattiam/batchanalysis/internal/deployment"
)

// Defaults
const (
	DefaultStack            = "code-analysis"
	DefaultRegion           = "us-east-1"
	DefaultImage            = "public.ecr.aws/amazonlinux/amazonlinux:latest"
	DefaultVCPU             = 1.0
	DefaultMemoryMiB        = 2048
	DefaultEphemeralGiB     = 21
	DefaultMaxVCPUs         = 16
	DefaultScriptPrefix     = "code-processing"
	DefaultScriptsDir       = "./assets/scripts"
	DefaultEntrypoint       = "process.sh"
	DefaultUploadWorkers    = 4
	DefaultTriggerTimeout   = 5 * time.Minute
	DefaultPollInterval     = 10 * time.Second
	DefaultProvisionTimeout = 20 * time.Minute
	DefaultStateStore       = "file"
	DefaultStatePath        = "~/.batchanalysis/state"
	DefaultPort             = 8080
)

var stackNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]{0,39}$`)

var validStateStores = map[string]bool{"memory": true, "file": true, "dynamodb": true, "redis": true}

// AppVersion is the application version, can be set at build time
var AppVersion = "dev"

// Config holds all configuration for a stack
type Config struct {
	Stack      string           `json:"stack" env:"BATCHANALYSIS_STACK"`
	AWS        AWSConfig        `json:"aws"`
	Deployment DeploymentConfig `json:"deployment"`
	Staging    StagingConfig    `json:"staging"`
	Compute    ComputeConfig    `json:"compute"`
	Trigger    TriggerConfig    `json:"trigger"`
	StateStore StateStoreConfig `json:"state_store"`
	Server     ServerConfig     `json:"server"`
}

// AWSConfig selects the account region and an optional endpoint override
type AWSConfig struct {
	Region   string `json:"region" env:"BATCHANALYSIS_REGION"`
	Endpoint string `json:"endpoint,omitempty" env:"BATCHANALYSIS_AWS_ENDPOINT"`
	Profile  string `json:"profile,omitempty" env:"BATCHANALYSIS_AWS_PROFILE"`
}

// DeploymentConfig holds the operator-supplied deployment parameters. The bucket and
// the prompt configuration reference are filled in by provisioning.
type DeploymentConfig struct {
	AppName    string `json:"app_name" env:"BATCHANALYSIS_APP_NAME"`
	AppRoleARN string `json:"app_role_arn" env:"BATCHANALYSIS_APP_ROLE_ARN"`
	RepoURL    string `json:"repo_url" env:"BATCHANALYSIS_REPO_URL"`
	UserID     string `json:"user_id" env:"BATCHANALYSIS_APP_USER_ID"`
	SSHURL     string `json:"ssh_url" env:"BATCHANALYSIS_SSH_URL"`
	SSHKeyName string `json:"ssh_key_name" env:"BATCHANALYSIS_SSH_KEY_NAME"`
}

// StagingConfig configures the staging bucket, the script assets and the prompt parameter
type StagingConfig struct {
	Bucket        string `json:"bucket,omitempty" env:"BATCHANALYSIS_BUCKET"`
	ScriptsDir    string `json:"scripts_dir" env:"BATCHANALYSIS_SCRIPTS_DIR"`
	ScriptPrefix  string `json:"script_prefix" env:"BATCHANALYSIS_SCRIPT_PREFIX"`
	Entrypoint    string `json:"entrypoint" env:"BATCHANALYSIS_ENTRYPOINT"`
	PromptsFile   string `json:"prompts_file,omitempty" env:"BATCHANALYSIS_PROMPTS_FILE"`
	ParameterName string `json:"parameter_name,omitempty" env:"BATCHANALYSIS_PARAMETER_NAME"`
	UploadWorkers int    `json:"upload_workers" env:"BATCHANALYSIS_UPLOAD_WORKERS"`
}

// ComputeConfig shapes the compute environment and the job definition
type ComputeConfig struct {
	Image               string   `json:"image" env:"BATCHANALYSIS_IMAGE"`
	VCPU                float64  `json:"vcpu" env:"BATCHANALYSIS_VCPU"`
	MemoryMiB           int      `json:"memory_mib" env:"BATCHANALYSIS_MEMORY_MIB"`
	EphemeralStorageGiB int      `json:"ephemeral_storage_gib" env:"BATCHANALYSIS_EPHEMERAL_STORAGE_GIB"`
	MaxVCPUs            int      `json:"max_vcpus" env:"BATCHANALYSIS_MAX_VCPUS"`
	VpcID               string   `json:"vpc_id,omitempty" env:"BATCHANALYSIS_VPC_ID"`
	SubnetIDs           []string `json:"subnet_ids,omitempty" env:"BATCHANALYSIS_SUBNET_IDS"`
	SecurityGroupIDs    []string `json:"security_group_ids,omitempty" env:"BATCHANALYSIS_SECURITY_GROUP_IDS"`
	AssignPublicIP      bool     `json:"assign_public_ip" env:"BATCHANALYSIS_ASSIGN_PUBLIC_IP"`
}

// TriggerConfig bounds the controller invocation and provisioning waits
type TriggerConfig struct {
	Timeout          time.Duration `json:"timeout" env:"BATCHANALYSIS_TRIGGER_TIMEOUT"`
	Compensate       bool          `json:"compensate" env:"BATCHANALYSIS_COMPENSATE"`
	PollInterval     time.Duration `json:"poll_interval" env:"BATCHANALYSIS_POLL_INTERVAL"`
	ProvisionTimeout time.Duration `json:"provision_timeout" env:"BATCHANALYSIS_PROVISION_TIMEOUT"`
}

// StateStoreConfig selects where trigger tokens are kept
type StateStoreConfig struct {
	Type          string `json:"type" env:"BATCHANALYSIS_STATE_STORE"`
	Path          string `json:"path" env:"BATCHANALYSIS_STATE_PATH"`
	DynamoDBTable string `json:"dynamodb_table,omitempty" env:"BATCHANALYSIS_DYNAMODB_TABLE"`
	RedisURL      string `json:"redis_url,omitempty" env:"BATCHANALYSIS_REDIS_URL"`
}

// ServerConfig configures the HTTP intake
type ServerConfig struct {
	Port int `json:"port" env:"BATCHANALYSIS_PORT"`
}

// NewConfig creates a configuration with defaults
func NewConfig() *Config {
	return &Config{
		Stack: DefaultStack,
		AWS: AWSConfig{
			Region: DefaultRegion,
		},
		Staging: StagingConfig{
			ScriptsDir:    DefaultScriptsDir,
			ScriptPrefix:  DefaultScriptPrefix,
			Entrypoint:    DefaultEntrypoint,
			UploadWorkers: DefaultUploadWorkers,
		},
		Compute: ComputeConfig{
			Image:               DefaultImage,
			VCPU:                DefaultVCPU,
			MemoryMiB:           DefaultMemoryMiB,
			EphemeralStorageGiB: DefaultEphemeralGiB,
			MaxVCPUs:            DefaultMaxVCPUs,
			AssignPublicIP:      true,
		},
		Trigger: TriggerConfig{
			Timeout:          DefaultTriggerTimeout,
			PollInterval:     DefaultPollInterval,
			ProvisionTimeout: DefaultProvisionTimeout,
		},
		StateStore: StateStoreConfig{
			Type: DefaultStateStore,
			Path: DefaultStatePath,
		},
		Server: ServerConfig{
			Port: DefaultPort,
		},
	}
}

// LoadFromEnv overrides fields from BATCHANALYSIS_* environment variables
func (c *Config) LoadFromEnv() error {
	setString(&c.Stack, EnvStack)

	setString(&c.AWS.Region, EnvRegion)
	setString(&c.AWS.Endpoint, EnvEndpoint)
	setString(&c.AWS.Profile, EnvProfile)

	setString(&c.Deployment.AppName, EnvAppName)
	setString(&c.Deployment.AppRoleARN, EnvAppRoleARN)
	setString(&c.Deployment.RepoURL, EnvRepoURL)
	setString(&c.Deployment.UserID, EnvUserID)
	setString(&c.Deployment.SSHURL, EnvSSHURL)
	setString(&c.Deployment.SSHKeyName, EnvSSHKeyName)

	setString(&c.Staging.Bucket, EnvBucket)
	setString(&c.Staging.ScriptsDir, EnvScriptsDir)
	setString(&c.Staging.ScriptPrefix, EnvScriptPrefix)
	setString(&c.Staging.Entrypoint, EnvEntrypoint)
	setString(&c.Staging.PromptsFile, EnvPromptsFile)
	setString(&c.Staging.ParameterName, EnvParameterName)

	setString(&c.Compute.Image, EnvImage)
	setString(&c.Compute.VpcID, EnvVpcID)
	setList(&c.Compute.SubnetIDs, EnvSubnetIDs)
	setList(&c.Compute.SecurityGroupIDs, EnvSecurityGroupIDs)

	setString(&c.StateStore.Type, EnvStateStore)
	setString(&c.StateStore.Path, EnvStatePath)
	setString(&c.StateStore.DynamoDBTable, EnvDynamoDBTable)
	setString(&c.StateStore.RedisURL, EnvRedisURL)

	for _, fn := range []func() error{
		func() error { return setInt(&c.Staging.UploadWorkers, EnvUploadWorkers) },
		func() error { return setFloat(&c.Compute.VCPU, EnvVCPU) },
		func() error { return setInt(&c.Compute.MemoryMiB, EnvMemoryMiB) },
		func() error { return setInt(&c.Compute.EphemeralStorageGiB, EnvEphemeralGiB) },
		func() error { return setInt(&c.Compute.MaxVCPUs, EnvMaxVCPUs) },
		func() error { return setBool(&c.Compute.AssignPublicIP, EnvAssignPublicIP) },
		func() error { return setDuration(&c.Trigger.Timeout, EnvTriggerTimeout) },
		func() error { return setBool(&c.Trigger.Compensate, EnvCompensate) },
		func() error { return setDuration(&c.Trigger.PollInterval, EnvPollInterval) },
		func() error { return setDuration(&c.Trigger.ProvisionTimeout, EnvProvisionTimeout) },
		func() error { return setInt(&c.Server.Port, EnvPort) },
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

func setInt(dst *int, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s value: %s", env, v)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s value: %s", env, v)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		*dst = true
	case "false", "0", "no", "off":
		*dst = false
	default:
		return fmt.Errorf("invalid %s value: %s", env, v)
	}
	return nil
}

func setDuration(dst *time.Duration, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s value: %s", env, v)
	}
	*dst = d
	return nil
}

// ExpandPaths expands ~ in path settings
func (c *Config) ExpandPaths() error {
	var err error
	if c.StateStore.Path, err = expandPath(c.StateStore.Path); err != nil {
		return fmt.Errorf("failed to expand state path: %w", err)
	}
	if c.Staging.ScriptsDir, err = expandPath(c.Staging.ScriptsDir); err != nil {
		return fmt.Errorf("failed to expand scripts dir: %w", err)
	}
	if c.Staging.PromptsFile, err = expandPath(c.Staging.PromptsFile); err != nil {
		return fmt.Errorf("failed to expand prompts file: %w", err)
	}
	return nil
}

func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Clean(path), nil
}

// Validate checks the settings every command needs
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Stack) == "" {
		return fmt.Errorf("stack name cannot be empty")
	}
	if !stackNamePattern.MatchString(c.Stack) {
		return fmt.Errorf("stack name %q must start with a letter and hold at most 40 letters, digits or hyphens", c.Stack)
	}
	if c.AWS.Region == "" {
		return fmt.Errorf("region cannot be empty")
	}
	if !validStateStores[c.StateStore.Type] {
		return fmt.Errorf("invalid state store type: %s", c.StateStore.Type)
	}
	switch c.StateStore.Type {
	case "file":
		if c.StateStore.Path == "" {
			return fmt.Errorf("state path is required for the file state store")
		}
	case "dynamodb":
		if c.StateStore.DynamoDBTable == "" {
			return fmt.Errorf("DynamoDB table is required for the dynamodb state store")
		}
	case "redis":
		if c.StateStore.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis state store")
		}
	}
	if c.Trigger.Timeout <= 0 {
		return fmt.Errorf("trigger timeout must be positive")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	return nil
}

// ValidateDeploy additionally checks what provisioning needs
func (c *Config) ValidateDeploy() error {
	if err := c.Validate(); err != nil {
		return deployment.NewError(deployment.CodeInvalidInput, deployment.PhaseProvisioning, "invalid configuration", err)
	}

	var missing []string
	for name, v := range map[string]string{
		EnvAppName:    c.Deployment.AppName,
		EnvAppRoleARN: c.Deployment.AppRoleARN,
		EnvRepoURL:    c.Deployment.RepoURL,
		EnvUserID:     c.Deployment.UserID,
		EnvSSHURL:     c.Deployment.SSHURL,
		EnvSSHKeyName: c.Deployment.SSHKeyName,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return deployment.InvalidInput(deployment.PhaseProvisioning, "missing deployment settings: %s", strings.Join(missing, ", "))
	}

	if c.Compute.VCPU <= 0 || c.Compute.MemoryMiB <= 0 {
		return deployment.InvalidInput(deployment.PhaseProvisioning, "vcpu and memory must be positive")
	}
	if c.Compute.EphemeralStorageGiB < 21 || c.Compute.EphemeralStorageGiB > 200 {
		return deployment.InvalidInput(deployment.PhaseProvisioning, "ephemeral storage must be between 21 and 200 GiB, got %d", c.Compute.EphemeralStorageGiB)
	}
	if c.Compute.MaxVCPUs < int(c.Compute.VCPU+0.5) {
		return deployment.InvalidInput(deployment.PhaseProvisioning, "max vcpus %d is below the job's vcpu %.2f", c.Compute.MaxVCPUs, c.Compute.VCPU)
	}
	if c.Staging.ScriptsDir == "" || c.Staging.Entrypoint == "" {
		return deployment.InvalidInput(deployment.PhaseProvisioning, "scripts directory and entrypoint are required")
	}
	if c.Trigger.PollInterval <= 0 || c.Trigger.ProvisionTimeout <= 0 {
		return deployment.InvalidInput(deployment.PhaseProvisioning, "poll interval and provision timeout must be positive")
	}
	return nil
}

// Parameters projects the configuration onto the job parameters. The bucket and the
// prompt configuration reference come from provisioning.
func (c *Config) Parameters(bucket, promptConfigRef string) deployment.Parameters {
	return deployment.Parameters{
		AppName:         c.Deployment.AppName,
		AppRoleARN:      c.Deployment.AppRoleARN,
		RepoURL:         c.Deployment.RepoURL,
		Bucket:          bucket,
		UserID:          c.Deployment.UserID,
		SSHURL:          c.Deployment.SSHURL,
		SSHKeyName:      c.Deployment.SSHKeyName,
		PromptConfigRef: promptConfigRef,
	}
}

// ToJSON returns the configuration as indented JSON
func (c *Config) ToJSON() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// GetSanitized returns the configuration without values that identify the operator's resources
func (c *Config) GetSanitized() map[string]interface{} {
	return map[string]interface{}{
		"stack":               c.Stack,
		"region":              c.AWS.Region,
		"endpoint_configured": c.AWS.Endpoint != "",
		"state_store":         c.StateStore.Type,
		"image":               c.Compute.Image,
		"trigger_timeout":     c.Trigger.Timeout.String(),
		"compensate":          c.Trigger.Compensate,
		"port":                c.Server.Port,
		"version":             AppVersion,
	}
}
