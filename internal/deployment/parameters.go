package deployment

import (
	"sort"
	"strings"
)

// Job container environment variable names
const (
	EnvJobDefinition   = "JOB_DEFINITION"
	EnvJobQueue        = "JOB_QUEUE"
	EnvRepoURL         = "REPO_URL"
	EnvAppName         = "APP_NAME"
	EnvAppRoleARN      = "APP_ROLE_ARN"
	EnvBucket          = "S3_BUCKET"
	EnvUserID          = "APP_USER_ID"
	EnvSSHURL          = "SSH_URL"
	EnvSSHKeyName      = "SSH_KEY_NAME"
	EnvPromptConfigRef = "PROMPT_CONFIG_REF"
)

// EnvironmentKeys lists every variable handed to the job container
var EnvironmentKeys = []string{
	EnvJobDefinition,
	EnvJobQueue,
	EnvRepoURL,
	EnvAppName,
	EnvAppRoleARN,
	EnvBucket,
	EnvUserID,
	EnvSSHURL,
	EnvSSHKeyName,
	EnvPromptConfigRef,
}

// Parameters holds the deployment-specific inputs threaded into the job's runtime
// environment. Values are built once at provisioning time and passed by value.
type Parameters struct {
	AppName         string `json:"appName"`
	AppRoleARN      string `json:"appRoleArn"`
	RepoURL         string `json:"repoUrl"`
	Bucket          string `json:"bucket"`
	UserID          string `json:"userId"`
	SSHURL          string `json:"sshUrl"`
	SSHKeyName      string `json:"sshKeyName"`
	PromptConfigRef string `json:"promptConfigRef"`
}

// fields returns (json name, value) pairs in declaration order
func (p Parameters) fields() [][2]string {
	return [][2]string{
		{"appName", p.AppName},
		{"appRoleArn", p.AppRoleARN},
		{"repoUrl", p.RepoURL},
		{"bucket", p.Bucket},
		{"userId", p.UserID},
		{"sshUrl", p.SSHURL},
		{"sshKeyName", p.SSHKeyName},
		{"promptConfigRef", p.PromptConfigRef},
	}
}

// Missing returns the names of empty fields
func (p Parameters) Missing() []string {
	var missing []string
	for _, f := range p.fields() {
		if strings.TrimSpace(f[1]) == "" {
			missing = append(missing, f[0])
		}
	}
	return missing
}

// Validate checks that every field is set
func (p Parameters) Validate() error {
	if missing := p.Missing(); len(missing) > 0 {
		return InvalidInput(PhaseSubmission, "missing required parameters: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Environment builds the job container environment for the given job definition and queue
func (p Parameters) Environment(jobDefinition JobDefinitionRef, jobQueue JobQueueRef) map[string]string {
	return map[string]string{
		EnvJobDefinition:   string(jobDefinition),
		EnvJobQueue:        string(jobQueue),
		EnvRepoURL:         p.RepoURL,
		EnvAppName:         p.AppName,
		EnvAppRoleARN:      p.AppRoleARN,
		EnvBucket:          p.Bucket,
		EnvUserID:          p.UserID,
		EnvSSHURL:          p.SSHURL,
		EnvSSHKeyName:      p.SSHKeyName,
		EnvPromptConfigRef: p.PromptConfigRef,
	}
}

// SortedKeys returns the keys of an environment map in lexical order
func SortedKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
