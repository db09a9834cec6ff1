package shopify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// maxTransferErrorBody bounds how much of a failed transfer response is kept.
const maxTransferErrorBody = 4 << 10

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// TransferRequest describes one multipart upload to a staged target.
type TransferRequest struct {
	URL      string
	Fields   []StagedParameter
	Payload  []byte
	Filename string
	MIMEType string
}

// TransferResult is the response of a transfer that reached the server.
type TransferResult struct {
	OK         bool
	Status     int
	StatusText string

	// Body is a prefix of the response body, set only for failures.
	Body string
}

// Transferer posts raw bytes to a one-shot upload URL. A non-nil error means
// the request could not be completed; a non-2xx answer is reported through
// TransferResult.OK instead.
type Transferer interface {
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
}

// HTTPTransferer is a [Transferer] backed by net/http.
type HTTPTransferer struct {
	http *http.Client
}

var _ Transferer = (*HTTPTransferer)(nil)

// NewHTTPTransferer creates a transferer. A nil client gets a default with a
// five minute timeout.
func NewHTTPTransferer(hc *http.Client) *HTTPTransferer {
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	return &HTTPTransferer{http: hc}
}

// Transfer sends the target's form fields verbatim and in order, followed by
// the payload as the final "file" field.
func (t *HTTPTransferer) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range req.Fields {
		if err := mw.WriteField(f.Name, f.Value); err != nil {
			return TransferResult{}, fmt.Errorf("shopify: transfer: write field %q: %w", f.Name, err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(req.Filename)))
	if req.MIMEType != "" {
		h.Set("Content-Type", req.MIMEType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return TransferResult{}, fmt.Errorf("shopify: transfer: create file part: %w", err)
	}
	if _, err := part.Write(req.Payload); err != nil {
		return TransferResult{}, fmt.Errorf("shopify: transfer: write payload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return TransferResult{}, fmt.Errorf("shopify: transfer: close form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, &buf)
	if err != nil {
		return TransferResult{}, fmt.Errorf("shopify: transfer: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.http.Do(httpReq)
	if err != nil {
		return TransferResult{}, fmt.Errorf("shopify: transfer: %w", err)
	}
	defer resp.Body.Close()

	res := TransferResult{
		OK:         resp.StatusCode >= 200 && resp.StatusCode <= 299,
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
	}
	if !res.OK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxTransferErrorBody))
		res.Body = string(b)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return res, nil
}
