package firecloud

import (
	"context"
	"net/http"
)

// WorkflowFailureMode used for every submission.
const WorkflowFailureMode = "NoNewCalls"

func submissionPath(namespace, name, id string) string {
	return workspacePath(namespace, name) + escapef("/submissions/%s", id)
}

// NewSubmissionRequest builds a request with call caching on and the
// NoNewCalls failure mode.
func NewSubmissionRequest(cfgNamespace, cfgName, entityType, entityName string) SubmissionRequest {
	return SubmissionRequest{
		MethodConfigurationNamespace: cfgNamespace,
		MethodConfigurationName:      cfgName,
		EntityType:                   entityType,
		EntityName:                   entityName,
		UseCallCache:                 true,
		WorkflowFailureMode:          WorkflowFailureMode,
	}
}

// SubmissionQueueStatus reports the global submission backlog.
func (c *Client) SubmissionQueueStatus(ctx context.Context) (*QueueStatus, error) {
	var qs QueueStatus
	if err := c.call(ctx, http.MethodGet, "/api/submissions/queueStatus", nil, &qs); err != nil {
		return nil, err
	}
	return &qs, nil
}

// WorkspaceSubmissions lists the submissions of a workspace.
func (c *Client) WorkspaceSubmissions(ctx context.Context, namespace, name string) ([]Submission, error) {
	var subs []Submission
	if err := c.call(ctx, http.MethodGet, workspacePath(namespace, name)+"/submissions", nil, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// ValidateSubmission checks a submission without launching it.
func (c *Client) ValidateSubmission(ctx context.Context, namespace, name string, req SubmissionRequest) (*SubmissionValidation, error) {
	var v SubmissionValidation
	if err := c.call(ctx, http.MethodPost, workspacePath(namespace, name)+"/submissions/validate", req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateSubmission launches workflows.
func (c *Client) CreateSubmission(ctx context.Context, namespace, name string, req SubmissionRequest) (*Submission, error) {
	var s Submission
	if err := c.call(ctx, http.MethodPost, workspacePath(namespace, name)+"/submissions", req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Submission fetches one submission with its workflows.
func (c *Client) Submission(ctx context.Context, namespace, name, id string) (*Submission, error) {
	var s Submission
	if err := c.call(ctx, http.MethodGet, submissionPath(namespace, name, id), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// AbortSubmission aborts a running submission.
func (c *Client) AbortSubmission(ctx context.Context, namespace, name, id string) error {
	_, err := c.execute(ctx, http.MethodDelete, submissionPath(namespace, name, id), nil)
	return err
}

// SubmissionWorkflow returns call-level metadata of one workflow.
func (c *Client) SubmissionWorkflow(ctx context.Context, namespace, name, submissionID, workflowID string) (*WorkflowMetadata, error) {
	var wf WorkflowMetadata
	path := submissionPath(namespace, name, submissionID) + escapef("/workflows/%s", workflowID)
	if err := c.call(ctx, http.MethodGet, path, nil, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// SubmissionWorkflowOutputs returns the outputs of one workflow by task.
func (c *Client) SubmissionWorkflowOutputs(ctx context.Context, namespace, name, submissionID, workflowID string) (*WorkflowOutputs, error) {
	var out WorkflowOutputs
	path := submissionPath(namespace, name, submissionID) + escapef("/workflows/%s/outputs", workflowID)
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
