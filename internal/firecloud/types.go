package firecloud

import "time"

// Workspace access levels.
const (
	AccessOwner    = "OWNER"
	AccessReader   = "READER"
	AccessWriter   = "WRITER"
	AccessNoAccess = "NO ACCESS"
)

// WorkspacePermissions is the allowed set of workspace ACL access levels.
var WorkspacePermissions = []string{AccessOwner, AccessReader, AccessWriter, AccessNoAccess}

// MethodRoles is the allowed set of method repository ACL roles.
var MethodRoles = []string{AccessOwner, AccessReader, AccessNoAccess}

// GroupRoles is the allowed set of user group membership roles.
var GroupRoles = []string{"admin", "member"}

// BillingProjectRoles is the allowed set of billing project membership roles.
var BillingProjectRoles = []string{"user", "owner"}

// EntityOperations lists the supported entity update operations.
var EntityOperations = []string{"AddUpdateAttribute", "RemoveAttribute", "AddListMember", "RemoveListMember"}

// BillingAccountPrefix must lead every billing account identifier.
const BillingAccountPrefix = "billingAccounts/"

// ComputeBlocklist holds billing projects whose workspaces never grant compute.
var ComputeBlocklist = []string{PortalNamespace}

// AuthorizationDomain restricts a workspace to members of a group.
type AuthorizationDomain struct {
	MembersGroupName string `json:"membersGroupName"`
}

// WorkspaceDetails is the "workspace" object inside a workspace response.
type WorkspaceDetails struct {
	Namespace           string                `json:"namespace"`
	Name                string                `json:"name"`
	WorkspaceID         string                `json:"workspaceId,omitempty"`
	BucketName          string                `json:"bucketName"`
	CreatedBy           string                `json:"createdBy,omitempty"`
	CreatedDate         string                `json:"createdDate,omitempty"`
	LastModified        string                `json:"lastModified,omitempty"`
	IsLocked            bool                  `json:"isLocked,omitempty"`
	Attributes          map[string]any        `json:"attributes,omitempty"`
	AuthorizationDomain []AuthorizationDomain `json:"authorizationDomain,omitempty"`
}

// Workspace is a single entry of the workspace list or a workspace fetch.
type Workspace struct {
	AccessLevel string           `json:"accessLevel,omitempty"`
	Owners      []string         `json:"owners,omitempty"`
	CanShare    bool             `json:"canShare,omitempty"`
	CanCompute  bool             `json:"canCompute,omitempty"`
	Workspace   WorkspaceDetails `json:"workspace"`
}

// ACLEntry is one element of an ACL update.
type ACLEntry struct {
	Email       string `json:"email"`
	AccessLevel string `json:"accessLevel"`
	CanShare    bool   `json:"canShare"`
	CanCompute  bool   `json:"canCompute"`
}

// ACLGrant is the per-user value of a fetched workspace ACL.
type ACLGrant struct {
	AccessLevel string `json:"accessLevel"`
	CanShare    bool   `json:"canShare"`
	CanCompute  bool   `json:"canCompute"`
	Pending     bool   `json:"pending,omitempty"`
}

// WorkspaceACL maps user emails to their grants.
type WorkspaceACL struct {
	ACL map[string]ACLGrant `json:"acl"`
}

// ACLUpdateResult is returned by an ACL update.
type ACLUpdateResult struct {
	UsersUpdated   []ACLEntry `json:"usersUpdated"`
	InvitesSent    []ACLEntry `json:"invitesSent"`
	InvitesUpdated []ACLEntry `json:"invitesUpdated"`
	UsersNotFound  []ACLEntry `json:"usersNotFound"`
}

// StorageCostEstimate is the monthly storage estimate of a workspace bucket.
type StorageCostEstimate struct {
	Estimate string `json:"estimate"`
}

// Method is a method repository entry.
type Method struct {
	Namespace       string   `json:"namespace"`
	Name            string   `json:"name"`
	SnapshotID      int      `json:"snapshotId"`
	Synopsis        string   `json:"synopsis,omitempty"`
	Documentation   string   `json:"documentation,omitempty"`
	Owner           string   `json:"owner,omitempty"`
	Payload         string   `json:"payload,omitempty"`
	URL             string   `json:"url,omitempty"`
	EntityType      string   `json:"entityType,omitempty"`
	SnapshotComment string   `json:"snapshotComment,omitempty"`
	ManagedBy       []string `json:"managers,omitempty"`
	Public          bool     `json:"public,omitempty"`
}

// MethodParameter is one input or output of a method.
type MethodParameter struct {
	Name       string `json:"name"`
	InputType  string `json:"inputType,omitempty"`
	OutputType string `json:"outputType,omitempty"`
	Optional   bool   `json:"optional,omitempty"`
}

// MethodParameters lists the inputs and outputs of a method snapshot.
type MethodParameters struct {
	Inputs  []MethodParameter `json:"inputs"`
	Outputs []MethodParameter `json:"outputs"`
}

// MethodACLEntry grants a role on a method or namespace.
type MethodACLEntry struct {
	User string `json:"user"`
	Role string `json:"role"`
}

// MethodRepoMethod references a method snapshot from a configuration.
type MethodRepoMethod struct {
	MethodNamespace string `json:"methodNamespace"`
	MethodName      string `json:"methodName"`
	MethodVersion   int    `json:"methodVersion"`
}

// MethodConfiguration is a workspace or repository method configuration.
type MethodConfiguration struct {
	Namespace           string            `json:"namespace"`
	Name                string            `json:"name"`
	RootEntityType      string            `json:"rootEntityType,omitempty"`
	Inputs              map[string]string `json:"inputs"`
	Outputs             map[string]string `json:"outputs"`
	Prerequisites       map[string]string `json:"prerequisites,omitempty"`
	MethodRepoMethod    MethodRepoMethod  `json:"methodRepoMethod"`
	MethodConfigVersion int               `json:"methodConfigVersion,omitempty"`
	Deleted             bool              `json:"deleted,omitempty"`
	SnapshotID          int               `json:"snapshotId,omitempty"`
	Payload             string            `json:"payload,omitempty"`
	PayloadObject       map[string]any    `json:"payloadObject,omitempty"`
}

// CopyConfigurationRequest copies a repository configuration into a workspace.
type CopyConfigurationRequest struct {
	ConfigurationNamespace  string `json:"configurationNamespace"`
	ConfigurationName       string `json:"configurationName"`
	ConfigurationSnapshotID int    `json:"configurationSnapshotId"`
	DestinationNamespace    string `json:"destinationNamespace"`
	DestinationName         string `json:"destinationName"`
}

// SubmissionRequest launches workflows for a configuration and entity.
type SubmissionRequest struct {
	MethodConfigurationNamespace string `json:"methodConfigurationNamespace"`
	MethodConfigurationName      string `json:"methodConfigurationName"`
	EntityType                   string `json:"entityType"`
	EntityName                   string `json:"entityName"`
	UseCallCache                 bool   `json:"useCallCache"`
	WorkflowFailureMode          string `json:"workflowFailureMode"`
}

// Workflow is one workflow of a submission.
type Workflow struct {
	WorkflowID            string     `json:"workflowId,omitempty"`
	Status                string     `json:"status"`
	StatusLastChangedDate string     `json:"statusLastChangedDate,omitempty"`
	WorkflowEntity        *EntityRef `json:"workflowEntity,omitempty"`
	InputResolutions      []any      `json:"inputResolutions,omitempty"`
	Messages              []string   `json:"messages,omitempty"`
	Cost                  float64    `json:"cost,omitempty"`
}

// Submission is a workflow submission in a workspace.
type Submission struct {
	SubmissionID                 string     `json:"submissionId"`
	SubmissionDate               string     `json:"submissionDate,omitempty"`
	Submitter                    string     `json:"submitter,omitempty"`
	Status                       string     `json:"status"`
	MethodConfigurationNamespace string     `json:"methodConfigurationNamespace,omitempty"`
	MethodConfigurationName      string     `json:"methodConfigurationName,omitempty"`
	SubmissionEntity             *EntityRef `json:"submissionEntity,omitempty"`
	Workflows                    []Workflow `json:"workflows,omitempty"`
	UseCallCache                 bool       `json:"useCallCache,omitempty"`
	WorkflowFailureMode          string     `json:"workflowFailureMode,omitempty"`
}

// SubmissionValidation is the result of validating a submission.
type SubmissionValidation struct {
	Request         SubmissionRequest `json:"request"`
	ValidEntities   []map[string]any  `json:"validEntities"`
	InvalidEntities []map[string]any  `json:"invalidEntities"`
}

// WorkflowMetadata is call-level detail of a single workflow.
type WorkflowMetadata struct {
	ID           string           `json:"id"`
	Status       string           `json:"status"`
	WorkflowName string           `json:"workflowName,omitempty"`
	Start        string           `json:"start,omitempty"`
	End          string           `json:"end,omitempty"`
	Calls        map[string][]any `json:"calls,omitempty"`
	Outputs      map[string]any   `json:"outputs,omitempty"`
	Failures     []any            `json:"failures,omitempty"`
}

// TaskOutputs holds the outputs of one task.
type TaskOutputs struct {
	Outputs map[string]any `json:"outputs"`
}

// WorkflowOutputs groups outputs by task.
type WorkflowOutputs struct {
	Tasks map[string]TaskOutputs `json:"tasks"`
}

// QueueStatus reports the backlog of the submission queue.
type QueueStatus struct {
	EstimatedQueueTimeMS            int64          `json:"estimatedQueueTimeMS"`
	WorkflowCountsByStatus          map[string]int `json:"workflowCountsByStatus"`
	WorkflowsBeforeNextUserWorkflow int            `json:"workflowsBeforeNextUserWorkflow"`
}

// EntityRef identifies an entity.
type EntityRef struct {
	EntityType string `json:"entityType"`
	EntityName string `json:"entityName"`
}

// Entity is a workspace data model entity.
type Entity struct {
	Name       string         `json:"name"`
	EntityType string         `json:"entityType"`
	Attributes map[string]any `json:"attributes"`
}

// EntityTypeInfo summarizes one entity type in a workspace.
type EntityTypeInfo struct {
	Count          int      `json:"count"`
	IDName         string   `json:"idName"`
	AttributeNames []string `json:"attributeNames"`
}

// EntityUpdate is a single attribute change.
type EntityUpdate struct {
	Op                 string `json:"op"`
	AttributeName      string `json:"attributeName"`
	AddUpdateAttribute any    `json:"addUpdateAttribute,omitempty"`
}

// Group is a managed user group.
type Group struct {
	GroupName     string   `json:"groupName"`
	GroupEmail    string   `json:"groupEmail"`
	Role          string   `json:"role,omitempty"`
	AdminsEmails  []string `json:"adminsEmails,omitempty"`
	MembersEmails []string `json:"membersEmails,omitempty"`
}

// BillingProject is a project the caller can bill against.
type BillingProject struct {
	ProjectName    string `json:"projectName"`
	Role           string `json:"role"`
	CreationStatus string `json:"creationStatus"`
	Message        string `json:"message,omitempty"`
}

// BillingAccount is a Google billing account visible to the caller.
type BillingAccount struct {
	AccountName        string `json:"accountName"`
	DisplayName        string `json:"displayName"`
	FirecloudHasAccess bool   `json:"firecloudHasAccess"`
}

// BillingMember is a member of a billing project.
type BillingMember struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Registration is the caller's registration record.
type Registration struct {
	UserInfo struct {
		UserSubjectID string `json:"userSubjectId"`
		UserEmail     string `json:"userEmail"`
	} `json:"userInfo"`
	Enabled map[string]bool `json:"enabled"`
}

// ProfileAttribute is one key/value of a user profile.
type ProfileAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Profile is the caller's remote profile.
type Profile struct {
	UserID        string             `json:"userId"`
	KeyValuePairs []ProfileAttribute `json:"keyValuePairs"`
}

// Get returns the value for key, or "".
func (p Profile) Get(key string) string {
	for _, kv := range p.KeyValuePairs {
		if kv.Key == key {
			return kv.Value
		}
	}
	return ""
}

// SubsystemStatus is the health of one backing service.
type SubsystemStatus struct {
	OK       bool     `json:"ok"`
	Messages []string `json:"messages,omitempty"`
}

// SystemStatus is the platform health report.
type SystemStatus struct {
	OK      bool                       `json:"ok"`
	Systems map[string]SubsystemStatus `json:"systems"`
}

// WorkspaceCompute is a user's effective grant on one workspace.
type WorkspaceCompute struct {
	Workspace   string
	AccessLevel string
	CanCompute  bool
	CheckedAt   time.Time
}
