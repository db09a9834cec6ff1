package shopify

import (
	"strings"
	"unicode"
)

// GraphQL documents sent to the Admin API. The bulk status lookups rely on
// currentBulkOperation being a per-store singleton, which holds for API
// versions before 2026-01.
const (
	// DocGetShop fetches shop identity and plan.
	DocGetShop = `query GetShop {
  shop {
    id
    name
    email
    url
    myshopifyDomain
    plan {
      displayName
      partnerDevelopment
      shopifyPlus
    }
    primaryDomain {
      url
      host
    }
    currencyCode
    weightUnit
    billingAddress {
      address1
      city
      province
      country
      zip
    }
    timezoneAbbreviation
    ianaTimezone
  }
}`

	// DocPing is the cheapest query that proves credentials work.
	DocPing = `query Ping { shop { name } }`

	DocBulkOperationRunQuery = `mutation BulkOperationRunQuery($query: String!) {
  bulkOperationRunQuery(query: $query) {
    bulkOperation {
      id
      status
      query
      rootObjectCount
      objectCount
      createdAt
    }
    userErrors {
      field
      message
    }
  }
}`

	DocBulkOperationRunMutation = `mutation BulkOperationRunMutation($mutation: String!, $stagedUploadPath: String!) {
  bulkOperationRunMutation(mutation: $mutation, stagedUploadPath: $stagedUploadPath) {
    bulkOperation {
      id
      status
      url
      objectCount
    }
    userErrors {
      field
      message
    }
  }
}`

	DocCurrentBulkQuery = `query GetCurrentBulkOperation {
  currentBulkOperation {
    id
    type
    status
    query
    url
    rootObjectCount
    objectCount
    fileSize
    partialDataUrl
    errorCode
    createdAt
    completedAt
  }
}`

	DocCurrentBulkMutation = `query GetCurrentBulkMutation {
  currentBulkOperation(type: MUTATION) {
    id
    type
    status
    url
    objectCount
    fileSize
    partialDataUrl
    errorCode
    createdAt
    completedAt
  }
}`

	DocBulkOperationCancel = `mutation BulkOperationCancel($id: ID!) {
  bulkOperationCancel(id: $id) {
    bulkOperation {
      id
      status
    }
    userErrors {
      field
      message
    }
  }
}`

	DocStagedUploadsCreate = `mutation StagedUploadsCreate($input: [StagedUploadInput!]!) {
  stagedUploadsCreate(input: $input) {
    stagedTargets {
      url
      resourceUrl
      parameters {
        name
        value
      }
    }
    userErrors {
      field
      message
    }
  }
}`

	DocFileCreate = `mutation FileCreate($files: [FileCreateInput!]!) {
  fileCreate(files: $files) {
    files {
      id
      alt
      createdAt
      fileStatus
      fileErrors {
        code
        details
        message
      }
      ... on GenericFile {
        url
        mimeType
        originalFileSize
      }
      ... on MediaImage {
        mimeType
        image {
          url
          width
          height
        }
      }
      ... on Video {
        originalSource {
          url
        }
        duration
      }
    }
    userErrors {
      field
      message
    }
  }
}`

	DocGetFile = `query GetFile($id: ID!) {
  node(id: $id) {
    ... on GenericFile {
      id
      alt
      fileStatus
      url
      mimeType
      fileErrors {
        code
        details
        message
      }
    }
    ... on MediaImage {
      id
      alt
      fileStatus
      image {
        url
        width
        height
      }
      fileErrors {
        code
        details
        message
      }
    }
    ... on Video {
      id
      alt
      fileStatus
      originalSource {
        url
      }
      fileErrors {
        code
        details
        message
      }
    }
  }
}`

	DocMetaobjectByHandle = `query GetMetaobjectByHandle($handle: MetaobjectHandleInput!) {
  metaobjectByHandle(handle: $handle) {
    id
    handle
    type
    displayName
    fields {
      key
      value
      type
    }
    capabilities {
      publishable {
        status
      }
    }
  }
}`

	DocMetaobjectCreate = `mutation MetaobjectCreate($metaobject: MetaobjectCreateInput!) {
  metaobjectCreate(metaobject: $metaobject) {
    metaobject {
      id
      handle
      type
      displayName
      fields {
        key
        value
        type
      }
      capabilities {
        publishable {
          status
        }
      }
    }
    userErrors {
      field
      message
      code
    }
  }
}`

	DocMetaobjectUpdate = `mutation MetaobjectUpdate($id: ID!, $metaobject: MetaobjectUpdateInput!) {
  metaobjectUpdate(id: $id, metaobject: $metaobject) {
    metaobject {
      id
      handle
      type
      displayName
      fields {
        key
        value
        type
      }
      capabilities {
        publishable {
          status
        }
      }
    }
    userErrors {
      field
      message
      code
    }
  }
}`

	DocMetaobjectDelete = `mutation MetaobjectDelete($id: ID!) {
  metaobjectDelete(id: $id) {
    deletedId
    userErrors {
      field
      message
      code
    }
  }
}`

	DocMetafieldDefinitions = `query GetMetafieldDefinitions($ownerType: MetafieldOwnerType!, $first: Int!, $after: String) {
  metafieldDefinitions(ownerType: $ownerType, first: $first, after: $after) {
    edges {
      node {
        id
        name
        namespace
        key
        type {
          name
        }
        description
        validations {
          name
          value
        }
        pinnedPosition
        ownerType
      }
    }
    pageInfo {
      hasNextPage
      endCursor
    }
  }
}`

	DocMetaobjectDefinitions = `query GetMetaobjectDefinitions($first: Int!, $after: String) {
  metaobjectDefinitions(first: $first, after: $after) {
    edges {
      node {
        id
        type
        name
        displayNameKey
        description
        fieldDefinitions {
          key
          name
          description
          type {
            name
          }
          required
          validations {
            name
            value
          }
        }
        capabilities {
          publishable {
            enabled
          }
          translatable {
            enabled
          }
          renderable {
            enabled
          }
        }
        access {
          admin
          storefront
        }
      }
    }
    pageInfo {
      hasNextPage
      endCursor
    }
  }
}`
)

// OperationType reports "mutation" when doc is a mutation document and
// "query" otherwise.
func OperationType(doc string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(stripComments(doc))), "mutation") {
		return "mutation"
	}
	return "query"
}

// OperationName returns the declared operation name of doc, or the first
// selected field for anonymous documents. It returns "anonymous" when
// neither can be found.
func OperationName(doc string) string {
	s := strings.TrimSpace(stripComments(doc))
	for _, kw := range []string{"query", "mutation", "subscription"} {
		if rest, ok := strings.CutPrefix(s, kw); ok && (rest == "" || !isNameRune(rune(rest[0]))) {
			if name := leadingName(strings.TrimSpace(rest)); name != "" {
				return name
			}
			s = rest
			break
		}
	}
	if i := strings.IndexByte(s, '{'); i >= 0 {
		if name := leadingName(strings.TrimSpace(s[i+1:])); name != "" {
			return name
		}
	}
	return "anonymous"
}

func leadingName(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool { return !isNameRune(r) })
	if end < 0 {
		end = len(s)
	}
	return s[:end]
}

func isNameRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// stripComments removes "#" line comments.
func stripComments(doc string) string {
	if !strings.Contains(doc, "#") {
		return doc
	}
	var b strings.Builder
	for line := range strings.Lines(doc) {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			b.WriteString(line[:i])
			b.WriteByte('\n')
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}
