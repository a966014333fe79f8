package config

// Environment variables read by LoadFromEnv
const (
	EnvStack = "BATCHANALYSIS_STACK"

	EnvRegion   = "BATCHANALYSIS_REGION"
	EnvEndpoint = "BATCHANALYSIS_AWS_ENDPOINT"
	EnvProfile  = "BATCHANALYSIS_AWS_PROFILE"

	EnvAppName    = "BATCHANALYSIS_APP_NAME"
	EnvAppRoleARN = "BATCHANALYSIS_APP_ROLE_ARN"
	EnvRepoURL    = "BATCHANALYSIS_REPO_URL"
	EnvUserID     = "BATCHANALYSIS_APP_USER_ID"
	EnvSSHURL     = "BATCHANALYSIS_SSH_URL"
	EnvSSHKeyName = "BATCHANALYSIS_SSH_KEY_NAME"

	EnvBucket        = "BATCHANALYSIS_BUCKET"
	EnvScriptsDir    = "BATCHANALYSIS_SCRIPTS_DIR"
	EnvScriptPrefix  = "BATCHANALYSIS_SCRIPT_PREFIX"
	EnvEntrypoint    = "BATCHANALYSIS_ENTRYPOINT"
	EnvPromptsFile   = "BATCHANALYSIS_PROMPTS_FILE"
	EnvParameterName = "BATCHANALYSIS_PARAMETER_NAME"
	EnvUploadWorkers = "BATCHANALYSIS_UPLOAD_WORKERS"

	EnvImage            = "BATCHANALYSIS_IMAGE"
	EnvVCPU             = "BATCHANALYSIS_VCPU"
	EnvMemoryMiB        = "BATCHANALYSIS_MEMORY_MIB"
	EnvEphemeralGiB     = "BATCHANALYSIS_EPHEMERAL_STORAGE_GIB"
	EnvMaxVCPUs         = "BATCHANALYSIS_MAX_VCPUS"
	EnvVpcID            = "BATCHANALYSIS_VPC_ID"
	EnvSubnetIDs        = "BATCHANALYSIS_SUBNET_IDS"
	EnvSecurityGroupIDs = "BATCHANALYSIS_SECURITY_GROUP_IDS"
	EnvAssignPublicIP   = "BATCHANALYSIS_ASSIGN_PUBLIC_IP"

	EnvTriggerTimeout   = "BATCHANALYSIS_TRIGGER_TIMEOUT"
	EnvCompensate       = "BATCHANALYSIS_COMPENSATE"
	EnvPollInterval     = "BATCHANALYSIS_POLL_INTERVAL"
	EnvProvisionTimeout = "BATCHANALYSIS_PROVISION_TIMEOUT"

	EnvStateStore    = "BATCHANALYSIS_STATE_STORE"
	EnvStatePath     = "BATCHANALYSIS_STATE_PATH"
	EnvDynamoDBTable = "BATCHANALYSIS_DYNAMODB_TABLE"
	EnvRedisURL      = "BATCHANALYSIS_REDIS_URL"

	EnvPort = "BATCHANALYSIS_PORT"
)

// API paths served by the HTTP intake
const (
	APIBasePath       = "/api/v1"
	APIEndpointEvents = "/api/v1/events"
	APIEndpointHealth = "/api/v1/system/health"
)
