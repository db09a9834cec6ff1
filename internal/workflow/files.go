package workflow

import (
	"context"
	"encoding/base64"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/shopify-store-mcp/internal/poll"
	"github.com/MrWong99/shopify-store-mcp/internal/shopify"
)

// Upload modes reported in [UploadFileResult].
const (
	ModeExternalURL  = "external_url"
	ModeStagedUpload = "staged_upload"
)

// UploadFileInput is the input of the upload_file tool. Exactly one of URL,
// Path and Content must be set.
type UploadFileInput struct {
	URL         string `json:"url,omitempty" jsonschema:"Public URL Shopify fetches the file from"`
	Path        string `json:"path,omitempty" jsonschema:"Local file path to upload"`
	Content     string `json:"content,omitempty" jsonschema:"Base64 encoded file content; requires filename and mimeType"`
	Filename    string `json:"filename,omitempty" jsonschema:"File name, derived from path when omitted"`
	MimeType    string `json:"mimeType,omitempty" jsonschema:"MIME type, detected from the file when omitted"`
	Alt         string `json:"alt,omitempty" jsonschema:"Alt text for accessibility"`
	ContentType string `json:"contentType,omitempty" jsonschema:"IMAGE, VIDEO, MODEL_3D or FILE; detected from the MIME type when omitted"`
}

// UploadedFile is the agent-facing view of a ready file.
type UploadedFile struct {
	ID       string             `json:"id"`
	Status   shopify.FileStatus `json:"status"`
	URL      string             `json:"url"`
	Alt      string             `json:"alt,omitempty"`
	MimeType string             `json:"mimeType,omitempty"`
}

// UploadFileResult is returned by [Runner.UploadFile].
type UploadFileResult struct {
	Success bool         `json:"success"`
	Mode    string       `json:"mode"`
	File    UploadedFile `json:"file"`
	Message string       `json:"message"`
}

var fileContentTypes = []string{"IMAGE", "VIDEO", "MODEL_3D", "FILE"}

// fileSource is a validated upload source.
type fileSource struct {
	url      string
	data     []byte
	filename string
	mimeType string
}

// UploadFile creates a managed file from an external URL, a local path or
// inline base64 content and waits until it is ready.
func (r *Runner) UploadFile(ctx context.Context, in UploadFileInput) (*UploadFileResult, error) {
	src, err := r.resolveSource(in)
	if err != nil {
		return nil, err
	}
	hint := strings.ToUpper(strings.TrimSpace(in.ContentType))

	fileInput := map[string]any{}
	mode := ModeExternalURL
	if src.url != "" {
		fileInput["originalSource"] = src.url
		if in.Filename != "" {
			fileInput["filename"] = in.Filename
		}
		if hint != "" {
			fileInput["contentType"] = hint
		}
	} else {
		mode = ModeStagedUpload
		target, err := r.stage(ctx, ToolUploadFile, map[string]any{
			"filename":   src.filename,
			"mimeType":   src.mimeType,
			"httpMethod": "POST",
			"resource":   resourceCategory(src.mimeType, hint),
			"fileSize":   strconv.Itoa(len(src.data)),
		})
		if err != nil {
			return nil, err
		}
		if err := r.transfer(ctx, ToolUploadFile, target, src.data, src.filename, src.mimeType); err != nil {
			return nil, err
		}
		fileInput["originalSource"] = target.ResourceURL
		fileInput["filename"] = src.filename
		fileInput["contentType"] = createContentType(src.mimeType, hint)
	}
	if in.Alt != "" {
		fileInput["alt"] = in.Alt
	}

	var resp fileCreateResponse
	vars := map[string]any{"files": []map[string]any{fileInput}}
	if err := r.call(ctx, ToolUploadFile, StepCreate, shopify.DocFileCreate, vars, &resp); err != nil {
		return nil, err
	}
	if len(resp.FileCreate.Files) == 0 || resp.FileCreate.Files[0].ID == "" {
		return nil, &StateError{Step: StepCreate, Message: "No file returned from fileCreate"}
	}
	id := resp.FileCreate.Files[0].ID
	slog.Info("workflow: file created", "id", id, "mode", mode)

	file, err := r.awaitFile(ctx, id)
	if err != nil {
		return nil, err
	}
	out := UploadedFile{
		ID:       file.ID,
		Status:   file.FileStatus,
		URL:      file.ResolvedURL(),
		Alt:      file.Alt,
		MimeType: file.MimeType,
	}
	return &UploadFileResult{
		Success: true,
		Mode:    mode,
		File:    out,
		Message: "File uploaded successfully. CDN URL: " + out.URL,
	}, nil
}

// resolveSource validates the input. It performs no remote calls.
func (r *Runner) resolveSource(in UploadFileInput) (fileSource, error) {
	url := strings.TrimSpace(in.URL)
	path := strings.TrimSpace(in.Path)
	content := strings.TrimSpace(in.Content)
	set := 0
	for _, s := range []string{url, path, content} {
		if s != "" {
			set++
		}
	}
	switch {
	case set == 0:
		return fileSource{}, precondition("Either 'url' (external URL), 'path' (local file) or 'content' (base64 data) must be provided.")
	case set > 1:
		return fileSource{}, precondition("Provide only one of 'url', 'path' or 'content'.")
	}
	if hint := strings.ToUpper(strings.TrimSpace(in.ContentType)); hint != "" && !slices.Contains(fileContentTypes, hint) {
		return fileSource{}, precondition("'contentType' must be one of %s.", strings.Join(fileContentTypes, ", "))
	}

	switch {
	case url != "":
		return fileSource{url: url}, nil

	case content != "":
		if in.Filename == "" || in.MimeType == "" {
			return fileSource{}, precondition("When providing 'content', both 'filename' and 'mimeType' are required.")
		}
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return fileSource{}, precondition("'content' is not valid base64: %v", err)
		}
		return fileSource{data: data, filename: in.Filename, mimeType: in.MimeType}, nil
	}

	data, err := r.readFile(path)
	if err != nil {
		return fileSource{}, precondition("Cannot read file %q: %v", path, err)
	}
	src := fileSource{data: data, filename: in.Filename, mimeType: in.MimeType}
	if src.filename == "" {
		src.filename = filepath.Base(path)
	}
	if src.mimeType == "" {
		src.mimeType = detectMIME(src.filename, data)
	}
	return src, nil
}

// awaitFile polls the file node until processing ends.
func (r *Runner) awaitFile(ctx context.Context, id string) (*shopify.File, error) {
	check := func(ctx context.Context) (poll.Result[*shopify.File], error) {
		r.recordPoll(ctx, ToolUploadFile)
		var resp fileNodeResponse
		if err := r.call(ctx, ToolUploadFile, StepPoll, shopify.DocGetFile, map[string]any{"id": id}, &resp); err != nil {
			return poll.Result[*shopify.File]{}, err
		}
		return fileProgress(resp.Node), nil
	}
	t := r.Timings()
	file, err := poll.Until(ctx, check, poll.Options{
		Interval: t.FileInterval,
		Timeout:  t.FileTimeout,
		OnPoll: func(elapsed time.Duration) {
			slog.Debug("workflow: file processing", "id", id, "elapsed", elapsed.Round(time.Millisecond))
		},
	})
	if err != nil {
		return nil, pollError(err, "File", id)
	}
	return file, nil
}

func fileProgress(f *shopify.File) poll.Result[*shopify.File] {
	if f == nil || f.ID == "" {
		return poll.Fail[*shopify.File]("File not found")
	}
	switch f.FileStatus {
	case shopify.FileReady:
		return poll.Complete(f)
	case shopify.FileFailed:
		msgs := make([]string, 0, len(f.FileErrors))
		for _, fe := range f.FileErrors {
			if fe.Message != "" {
				msgs = append(msgs, fe.Message)
			}
		}
		if len(msgs) == 0 {
			return poll.Fail[*shopify.File]("File processing failed")
		}
		return poll.Fail[*shopify.File](strings.Join(msgs, ", "))
	}
	return poll.Pending[*shopify.File]()
}

// detectMIME guesses a MIME type from the file extension, then from the
// content. Parameters such as charset are dropped.
func detectMIME(filename string, data []byte) string {
	t := mime.TypeByExtension(filepath.Ext(filename))
	if t == "" {
		t = http.DetectContentType(data)
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}

// resourceCategory selects the staged upload resource.
func resourceCategory(mimeType, hint string) string {
	if hint != "" {
		return hint
	}
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "IMAGE"
	case strings.HasPrefix(mimeType, "video/"):
		return "VIDEO"
	case strings.Contains(mimeType, "model"), strings.Contains(mimeType, "gltf"), strings.Contains(mimeType, "glb"):
		return "MODEL_3D"
	}
	return "FILE"
}

// createContentType selects the fileCreate content type.
func createContentType(mimeType, hint string) string {
	if hint != "" {
		return hint
	}
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "IMAGE"
	case strings.HasPrefix(mimeType, "video/"):
		return "VIDEO"
	}
	return "FILE"
}

// ── response payloads ─────────────────────────────────────────────────────────

type fileCreateResponse struct {
	FileCreate struct {
		Files      []shopify.File      `json:"files"`
		UserErrors []shopify.UserError `json:"userErrors"`
	} `json:"fileCreate"`
}

func (r *fileCreateResponse) userErrors() []shopify.UserError {
	return r.FileCreate.UserErrors
}

type fileNodeResponse struct {
	Node *shopify.File `json:"node"`
}
