package policy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
)

// Service principals allowed to assume each role
const (
	ExecutionPrincipal  = "ecs-tasks.amazonaws.com"
	SubmissionPrincipal = "lambda.amazonaws.com"
)

// Log group prefixes each role may write to
const (
	ExecutionLogGroupPrefix  = "/aws/batch/"
	SubmissionLogGroupPrefix = "/aws/lambda/"
)

// Submit-side actions: requesting execution of a job
const (
	ActionSubmitJob = "batch:SubmitJob"
	ActionPassRole  = "iam:PassRole"
)

// SubmitActions may only appear on the submission role
var SubmitActions = []string{ActionSubmitJob, ActionPassRole}

// ExecuteActions may only appear on the execution role: running the job container
// and touching the data the job works on
var ExecuteActions = []string{
	"ecs:RunTask",
	"ecs:StartTask",
	"qbusiness:ChatSync",
	"qbusiness:BatchPutDocument",
	"secretsmanager:GetSecretValue",
	"s3:GetObject",
	"s3:PutObject",
	"s3:DeleteObject",
	"s3:ListBucket",
	"ssm:GetParameter",
	"ssm:GetParameters",
}

var (
	knowledgeBaseWriteActions = []string{"qbusiness:ChatSync", "qbusiness:BatchPutDocument"}
	knowledgeBaseListActions  = []string{"qbusiness:ListApplications", "qbusiness:ListIndices"}
	logActions                = []string{"logs:CreateLogGroup", "logs:CreateLogStream", "logs:PutLogEvents"}
	stagingActions            = []string{
		"s3:GetObject",
		"s3:GetBucketLocation",
		"s3:ListBucket",
		"s3:PutObject",
		"s3:DeleteObject",
		"s3:AbortMultipartUpload",
	}
	parameterActions = []string{"ssm:DescribeParameters", "ssm:GetParameter", "ssm:GetParameters", "ssm:GetParameterHistory"}
	secretActions    = []string{"secretsmanager:GetSecretValue"}
)

// ErrPrivilegeBoundary is returned when the two roles' grants overlap or a grant is too broad
var ErrPrivilegeBoundary = errors.New("least-privilege boundary violated")

// Scope locates the resources the execution role may touch
type Scope struct {
	Partition     string
	Region        string
	AccountID     string
	Bucket        string
	ParameterName string
	SecretName    string
}

// Validate checks that every scope field is set
func (s Scope) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"partition":      s.Partition,
		"region":         s.Region,
		"account id":     s.AccountID,
		"bucket":         s.Bucket,
		"parameter name": s.ParameterName,
		"secret name":    s.SecretName,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("policy scope is missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s Scope) arn(service, resource string) string {
	return arn.ARN{
		Partition: s.Partition,
		Service:   service,
		Region:    s.Region,
		AccountID: s.AccountID,
		Resource:  resource,
	}.String()
}

// BucketARN returns the staging bucket ARN
func (s Scope) BucketARN() string {
	return arn.ARN{Partition: s.Partition, Service: "s3", Resource: s.Bucket}.String()
}

// ParameterARN returns the prompt configuration parameter ARN
func (s Scope) ParameterARN() string {
	return s.arn("ssm", "parameter/"+strings.TrimPrefix(s.ParameterName, "/"))
}

// SecretARNPattern matches the named secret including its random suffix
func (s Scope) SecretARNPattern() string {
	return s.arn("secretsmanager", "secret:"+s.SecretName+"-??????")
}

// LogGroupARN returns the ARN pattern for log groups under prefix
func (s Scope) LogGroupARN(prefix string) string {
	return s.arn("logs", "log-group:"+prefix+"*")
}

// RolePolicy is the grant set attached to exactly one role
type RolePolicy struct {
	RoleName   string
	PolicyName string
	Principal  string
	// TrustedAccounts may also assume the role, in addition to Principal
	TrustedAccounts []string
	Document        Document
}

// PolicyJSON renders the inline policy
func (r RolePolicy) PolicyJSON() (string, error) {
	return r.Document.JSON()
}

// TrustJSON renders the trust policy
func (r RolePolicy) TrustJSON() (string, error) {
	return TrustPolicy(r.Principal, r.TrustedAccounts...)
}

// AccountRootARN is the principal standing for every identity in the account
func (s Scope) AccountRootARN() string {
	return arn.ARN{Partition: s.Partition, Service: "iam", AccountID: s.AccountID, Resource: "root"}.String()
}

// ExecutionRole builds the grant set of the role the job container runs as
func ExecutionRole(roleName string, scope Scope) (RolePolicy, error) {
	if roleName == "" {
		return RolePolicy{}, errors.New("execution role name is required")
	}
	if err := scope.Validate(); err != nil {
		return RolePolicy{}, err
	}

	doc := NewDocument(
		Allow("KnowledgeBaseIngest", knowledgeBaseWriteActions, scope.arn("qbusiness", "application/*")),
		Allow("JobLogs", logActions, scope.LogGroupARN(ExecutionLogGroupPrefix)),
		Allow("StagingReadWrite", stagingActions, scope.BucketARN(), scope.BucketARN()+"/*"),
		Allow("PromptConfigRead", parameterActions, scope.ParameterARN()),
		Allow("SSHKeyRead", secretActions, scope.SecretARNPattern()),
	)

	return RolePolicy{
		RoleName:   roleName,
		PolicyName: roleName + "-policy",
		Principal:  ExecutionPrincipal,
		Document:   doc,
	}, nil
}

// SubmissionTargets are the concrete resources the submission role may act on
type SubmissionTargets struct {
	ExecutionRoleARN string
	JobQueueARN      string
	JobDefinitionARN string
}

// Validate checks that every target is a concrete ARN
func (t SubmissionTargets) Validate() error {
	for name, v := range map[string]string{
		"execution role": t.ExecutionRoleARN,
		"job queue":      t.JobQueueARN,
		"job definition": t.JobDefinitionARN,
	} {
		if v == "" {
			return fmt.Errorf("%s ARN is required", name)
		}
		if isWildcard(v) {
			return fmt.Errorf("%w: %s ARN %q must not contain wildcards", ErrPrivilegeBoundary, name, v)
		}
		if !arn.IsARN(v) {
			return fmt.Errorf("%s ARN %q is not an ARN", name, v)
		}
	}
	return nil
}

// SubmissionRole builds the grant set of the role that requests job execution. The
// deploying account is trusted alongside the service principal so the controller
// can run under the role from the CLI and the HTTP intake.
func SubmissionRole(roleName string, scope Scope, targets SubmissionTargets) (RolePolicy, error) {
	if roleName == "" {
		return RolePolicy{}, errors.New("submission role name is required")
	}
	if err := targets.Validate(); err != nil {
		return RolePolicy{}, err
	}
	if scope.Partition == "" || scope.AccountID == "" {
		return RolePolicy{}, errors.New("submission role scope needs a partition and account id")
	}

	doc := NewDocument(
		// Discovery requires enumeration, so list actions cannot be narrowed.
		Allow("KnowledgeBaseDiscovery", knowledgeBaseListActions, "*"),
		Allow("PassExecutionRole", []string{ActionPassRole}, targets.ExecutionRoleARN),
		Allow("ControllerLogs", logActions, scope.LogGroupARN(SubmissionLogGroupPrefix)),
		Allow("SubmitAnalysisJob", []string{ActionSubmitJob}, targets.JobQueueARN, targets.JobDefinitionARN),
	)

	return RolePolicy{
		RoleName:        roleName,
		PolicyName:      roleName + "-policy",
		Principal:       SubmissionPrincipal,
		TrustedAccounts: []string{scope.AccountRootARN()},
		Document:        doc,
	}, nil
}

// Validate enforces the boundary between the execution and submission roles:
// the execution role never submits or passes roles, the submission role never
// executes or reads job data, and pass-role resolves to exactly the execution role.
func Validate(execution, submission RolePolicy, executionRoleARN string) error {
	var problems []string

	for _, action := range SubmitActions {
		if execution.Document.Allows(action) {
			problems = append(problems, fmt.Sprintf("execution role %s is granted %s", execution.RoleName, action))
		}
	}
	for _, action := range ExecuteActions {
		if submission.Document.Allows(action) {
			problems = append(problems, fmt.Sprintf("submission role %s is granted %s", submission.RoleName, action))
		}
	}

	passTargets := submission.Document.ResourcesFor(ActionPassRole)
	switch {
	case len(passTargets) != 1:
		problems = append(problems, fmt.Sprintf("pass-role must resolve to exactly one ARN, got %d", len(passTargets)))
	case isWildcard(passTargets[0]):
		problems = append(problems, fmt.Sprintf("pass-role resource %q is a wildcard", passTargets[0]))
	case passTargets[0] != executionRoleARN:
		problems = append(problems, fmt.Sprintf("pass-role resource %q is not the execution role %q", passTargets[0], executionRoleARN))
	}

	for _, resource := range submission.Document.ResourcesFor(ActionSubmitJob) {
		if isWildcard(resource) {
			problems = append(problems, fmt.Sprintf("submit-job resource %q is a wildcard", resource))
		}
	}

	if execution.Principal == submission.Principal {
		problems = append(problems, "execution and submission roles share a trust principal")
	}
	if len(execution.TrustedAccounts) > 0 {
		problems = append(problems, fmt.Sprintf("execution role %s trusts account principals %v", execution.RoleName, execution.TrustedAccounts))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrPrivilegeBoundary, strings.Join(problems, "; "))
	}
	return nil
}
