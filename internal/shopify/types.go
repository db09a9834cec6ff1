package shopify

import (
	"strings"
)

// BulkStatus is the lifecycle state of a bulk operation. States progress
// forward only.
type BulkStatus string

const (
	BulkCreated   BulkStatus = "CREATED"
	BulkRunning   BulkStatus = "RUNNING"
	BulkCompleted BulkStatus = "COMPLETED"
	BulkFailed    BulkStatus = "FAILED"
	BulkCanceled  BulkStatus = "CANCELED"
	BulkCanceling BulkStatus = "CANCELING"
	BulkExpired   BulkStatus = "EXPIRED"
)

// BulkType selects between bulk queries and bulk mutations.
type BulkType string

const (
	BulkTypeQuery    BulkType = "QUERY"
	BulkTypeMutation BulkType = "MUTATION"
)

// BulkOperation is a long-running export or import job.
type BulkOperation struct {
	ID             string     `json:"id"`
	Type           BulkType   `json:"type,omitempty"`
	Status         BulkStatus `json:"status"`
	URL            string     `json:"url,omitempty"`
	PartialDataURL string     `json:"partialDataUrl,omitempty"`
	ObjectCount    Count      `json:"objectCount"`
	ErrorCode      string     `json:"errorCode,omitempty"`
	CreatedAt      string     `json:"createdAt,omitempty"`
	CompletedAt    string     `json:"completedAt,omitempty"`
}

// FileStatus is the processing state of a managed file.
type FileStatus string

const (
	FileUploaded   FileStatus = "UPLOADED"
	FileProcessing FileStatus = "PROCESSING"
	FileReady      FileStatus = "READY"
	FileFailed     FileStatus = "FAILED"
)

// File is a managed file (GenericFile, MediaImage or Video) as returned by
// fileCreate and node lookups.
type File struct {
	ID             string      `json:"id"`
	Alt            string      `json:"alt,omitempty"`
	FileStatus     FileStatus  `json:"fileStatus"`
	URL            string      `json:"url,omitempty"`
	MimeType       string      `json:"mimeType,omitempty"`
	Image          *FileImage  `json:"image,omitempty"`
	OriginalSource *FileSource `json:"originalSource,omitempty"`
	FileErrors     []FileError `json:"fileErrors,omitempty"`
}

// FileImage is the image payload of a MediaImage.
type FileImage struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// FileSource is the original source of a Video.
type FileSource struct {
	URL string `json:"url"`
}

// FileError describes why file processing failed.
type FileError struct {
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	Message string `json:"message"`
}

// ResolvedURL returns the first populated of the direct URL, the image URL
// and the original source URL.
func (f *File) ResolvedURL() string {
	if f.URL != "" {
		return f.URL
	}
	if f.Image != nil && f.Image.URL != "" {
		return f.Image.URL
	}
	if f.OriginalSource != nil {
		return f.OriginalSource.URL
	}
	return ""
}

// Metaobject is a user-defined record keyed by (type, handle).
type Metaobject struct {
	ID           string                  `json:"id"`
	Handle       string                  `json:"handle"`
	Type         string                  `json:"type"`
	DisplayName  string                  `json:"displayName,omitempty"`
	Fields       []MetaobjectField       `json:"fields"`
	Capabilities *MetaobjectCapabilities `json:"capabilities,omitempty"`
}

// MetaobjectField is one key/value pair of a metaobject.
type MetaobjectField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Type  string `json:"type,omitempty"`
}

// MetaobjectCapabilities carries the publishable status of a metaobject.
type MetaobjectCapabilities struct {
	Publishable *struct {
		Status string `json:"status"`
	} `json:"publishable,omitempty"`
}

// StagedParameter is one form field required by a staged upload target.
type StagedParameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// StagedTarget is a one-shot upload destination.
type StagedTarget struct {
	URL         string            `json:"url"`
	ResourceURL string            `json:"resourceUrl"`
	Parameters  []StagedParameter `json:"parameters"`
}

// StagedPath returns the path a bulk mutation must reference: the "key"
// form parameter when present, otherwise the resource URL.
func (t StagedTarget) StagedPath() string {
	for _, p := range t.Parameters {
		if p.Name == "key" && p.Value != "" {
			return p.Value
		}
	}
	return t.ResourceURL
}

// UserError is a field-level validation error returned by a mutation.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
}

// FieldPath returns the dotted field path, or "general" when none is set.
func (e UserError) FieldPath() string {
	if len(e.Field) == 0 {
		return "general"
	}
	return strings.Join(e.Field, ".")
}

// ShopPlan is the subscription plan of a shop.
type ShopPlan struct {
	DisplayName        string `json:"displayName"`
	PartnerDevelopment bool   `json:"partnerDevelopment"`
	ShopifyPlus        bool   `json:"shopifyPlus"`
}

// Shop is the subset of shop fields returned by GetShop.
type Shop struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Email           string   `json:"email,omitempty"`
	URL             string   `json:"url,omitempty"`
	MyshopifyDomain string   `json:"myshopifyDomain,omitempty"`
	Plan            ShopPlan `json:"plan"`
	PrimaryDomain   *struct {
		URL  string `json:"url"`
		Host string `json:"host"`
	} `json:"primaryDomain,omitempty"`
	CurrencyCode         string         `json:"currencyCode,omitempty"`
	WeightUnit           string         `json:"weightUnit,omitempty"`
	BillingAddress       map[string]any `json:"billingAddress,omitempty"`
	TimezoneAbbreviation string         `json:"timezoneAbbreviation,omitempty"`
	IanaTimezone         string         `json:"ianaTimezone,omitempty"`
}
