package shopify

import "strings"

const gidPrefix = "gid://shopify/"

// NormalizeGID returns id as a global ID of the given resource type. IDs
// already in gid form are returned unchanged; bare numeric IDs are prefixed,
// e.g. NormalizeGID("123", "Metaobject") == "gid://shopify/Metaobject/123".
func NormalizeGID(id, resource string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, gidPrefix) {
		return id
	}
	return gidPrefix + resource + "/" + id
}

// IsGID reports whether id is in gid://shopify/... form.
func IsGID(id string) bool {
	return strings.HasPrefix(id, gidPrefix)
}
