package github

// CreateRepoRequest is the payload for POST /user/repos.
type CreateRepoRequest struct {
	Name        string `json:"name"`
	Private     bool   `json:"private"`
	Description string `json:"description,omitempty"`
}

// PutContentRequest is the payload for PUT /repos/{owner}/{repo}/contents/{path}.
// SHA must be the blob SHA of the file being replaced; it is omitted when
// creating a new file.
type PutContentRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
}
