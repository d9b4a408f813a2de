// Package mcpserver registers MCP tools that expose folder and push
// operations. Handlers are thin: they call the registry or the runner and
// shape the answer.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/pushbox/internal/backup"
	"github.com/alexjbarnes/pushbox/internal/registry"
	"github.com/alexjbarnes/pushbox/internal/remote"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Registry is the folder registry as the tools use it.
type Registry interface {
	Folders() []string
	Folder(name string) (registry.FolderRecord, error)
	CreateFolder(name string) (registry.FolderRecord, error)
	AddFiles(name string, paths []string) ([]registry.FileRef, error)
}

// Runner runs pushes and remote listings.
type Runner interface {
	Push(ctx context.Context, folder string, cb backup.Callbacks) (*backup.Result, error)
	RemoteFiles(ctx context.Context, folder string) ([]remote.Object, error)
}

// RegisterTools adds all pushbox tools to the given MCP server.
func RegisterTools(server *mcp.Server, reg Registry, runner Runner, logger *slog.Logger) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "pushbox_list_folders",
		Description: "List every registered folder with its file count. Use this first to see what can be pushed.",
	}, listFoldersHandler(reg))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "pushbox_list_files",
		Description: "List the local files registered in a folder, in upload order, with the name each is stored under remotely.",
	}, listFilesHandler(reg))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "pushbox_create_folder",
		Description: "Create a new empty folder. The name becomes the remote repository name and must be unique.",
	}, createFolderHandler(reg))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "pushbox_add_files",
		Description: "Add local files (absolute paths) to a folder. Files already in the folder are skipped. Two files with the same base name cannot share a folder.",
	}, addFilesHandler(reg))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "pushbox_push",
		Description: "Upload a folder to its remote repository, creating the repository if needed. Returns per-file results; a run can partly succeed.",
	}, pushHandler(runner, logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "pushbox_remote_files",
		Description: "List the objects currently stored in a folder's remote repository.",
	}, remoteFilesHandler(runner))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// ListFoldersInput has no parameters.
type ListFoldersInput struct{}

// FolderInput names one folder.
type FolderInput struct {
	Folder string `json:"folder" jsonschema:"required,folder name"`
}

// AddFilesInput holds parameters for pushbox_add_files.
type AddFilesInput struct {
	Folder string   `json:"folder" jsonschema:"required,folder name"`
	Paths  []string `json:"paths" jsonschema:"required,absolute local file paths"`
}

// --- Output types ---

// FolderSummary is one entry of pushbox_list_folders.
type FolderSummary struct {
	Name  string `json:"name"`
	Files int    `json:"files"`
}

// ListFoldersResult is returned by pushbox_list_folders.
type ListFoldersResult struct {
	Folders []FolderSummary `json:"folders"`
}

// ListFilesResult is returned by pushbox_list_files.
type ListFilesResult struct {
	Folder string             `json:"folder"`
	Files  []registry.FileRef `json:"files"`
}

// CreateFolderResult is returned by pushbox_create_folder.
type CreateFolderResult struct {
	Folder string `json:"folder"`
}

// AddFilesResult is returned by pushbox_add_files.
type AddFilesResult struct {
	Folder string             `json:"folder"`
	Added  []registry.FileRef `json:"added"`
	Total  int                `json:"total"`
}

// FailedFile is one per-file failure of a push.
type FailedFile struct {
	RemoteName string `json:"remote_name"`
	Error      string `json:"error"`
}

// PushResult is returned by pushbox_push.
type PushResult struct {
	Folder       string       `json:"folder"`
	Outcome      string       `json:"outcome"`
	Progress     int          `json:"progress"`
	Succeeded    []string     `json:"succeeded"`
	Failed       []FailedFile `json:"failed,omitempty"`
	Skipped      []string     `json:"skipped,omitempty"`
	Unchanged    []string     `json:"unchanged,omitempty"`
	NotAttempted []string     `json:"not_attempted,omitempty"`
}

// RemoteFilesResult is returned by pushbox_remote_files.
type RemoteFilesResult struct {
	Folder  string          `json:"folder"`
	Objects []remote.Object `json:"objects"`
}

// --- Handlers ---

func listFoldersHandler(reg Registry) mcp.ToolHandlerFor[ListFoldersInput, *ListFoldersResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ ListFoldersInput) (*mcp.CallToolResult, *ListFoldersResult, error) {
		result := &ListFoldersResult{Folders: []FolderSummary{}}

		for _, name := range reg.Folders() {
			rec, err := reg.Folder(name)
			if err != nil {
				continue
			}

			result.Folders = append(result.Folders, FolderSummary{Name: name, Files: len(rec.Entries)})
		}

		return textResult(result), result, nil
	}
}

func listFilesHandler(reg Registry) mcp.ToolHandlerFor[FolderInput, *ListFilesResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input FolderInput) (*mcp.CallToolResult, *ListFilesResult, error) {
		rec, err := reg.Folder(input.Folder)
		if err != nil {
			return nil, nil, err
		}

		result := &ListFilesResult{Folder: rec.Name, Files: rec.Entries}
		if result.Files == nil {
			result.Files = []registry.FileRef{}
		}

		return textResult(result), result, nil
	}
}

func createFolderHandler(reg Registry) mcp.ToolHandlerFor[FolderInput, *CreateFolderResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input FolderInput) (*mcp.CallToolResult, *CreateFolderResult, error) {
		rec, err := reg.CreateFolder(input.Folder)
		if err != nil {
			return nil, nil, err
		}

		result := &CreateFolderResult{Folder: rec.Name}

		return textResult(result), result, nil
	}
}

func addFilesHandler(reg Registry) mcp.ToolHandlerFor[AddFilesInput, *AddFilesResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input AddFilesInput) (*mcp.CallToolResult, *AddFilesResult, error) {
		added, err := reg.AddFiles(input.Folder, input.Paths)
		if err != nil {
			return nil, nil, err
		}

		rec, err := reg.Folder(input.Folder)
		if err != nil {
			return nil, nil, err
		}

		if added == nil {
			added = []registry.FileRef{}
		}

		result := &AddFilesResult{Folder: input.Folder, Added: added, Total: len(rec.Entries)}

		return textResult(result), result, nil
	}
}

func pushHandler(runner Runner, logger *slog.Logger) mcp.ToolHandlerFor[FolderInput, *PushResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input FolderInput) (*mcp.CallToolResult, *PushResult, error) {
		res, err := runner.Push(ctx, input.Folder, backup.Callbacks{
			OnProgress: func(pct int) {
				logger.Debug("push progress", slog.String("folder", input.Folder), slog.Int("percent", pct))
			},
		})
		if err != nil {
			return nil, nil, err
		}

		result := pushResult(res)

		return textResult(result), result, nil
	}
}

func pushResult(res *backup.Result) *PushResult {
	out := &PushResult{
		Folder:    res.Folder,
		Outcome:   res.Outcome(),
		Progress:  res.Progress,
		Succeeded: []string{},
	}

	for _, r := range res.Succeeded {
		out.Succeeded = append(out.Succeeded, r.RemoteName)
	}

	for _, f := range res.Failed {
		out.Failed = append(out.Failed, FailedFile{RemoteName: f.Ref.RemoteName, Error: f.Err.Error()})
	}

	for _, w := range res.Skipped {
		out.Skipped = append(out.Skipped, w.Ref.LocalPath)
	}

	for _, r := range res.Unchanged {
		out.Unchanged = append(out.Unchanged, r.RemoteName)
	}

	for _, r := range res.NotAttempted {
		out.NotAttempted = append(out.NotAttempted, r.RemoteName)
	}

	return out
}

func remoteFilesHandler(runner Runner) mcp.ToolHandlerFor[FolderInput, *RemoteFilesResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input FolderInput) (*mcp.CallToolResult, *RemoteFilesResult, error) {
		objs, err := runner.RemoteFiles(ctx, input.Folder)
		if err != nil {
			return nil, nil, err
		}

		if objs == nil {
			objs = []remote.Object{}
		}

		result := &RemoteFilesResult{Folder: input.Folder, Objects: objs}

		return textResult(result), result, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
