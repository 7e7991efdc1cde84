// Package resource defines the typed nodes of the GCP resource hierarchy
// as seen by the scanner: organizations, folders and projects.
package resource

import (
	"fmt"
	"regexp"
	"strings"
)

// Type identifies the kind of a hierarchy node.
type Type string

const (
	Organization Type = "organization"
	Folder       Type = "folder"
	Project      Type = "project"
)

// namePattern matches the ancestor form accepted in rule definitions,
// anchored over the whole string.
var namePattern = regexp.MustCompile(`^(organizations|folders)/(\d+)$`)

// Resource is an immutable hierarchy node.
type Resource struct {
	Type Type
	ID   string
}

// New constructs a Resource.
func New(t Type, id string) Resource {
	return Resource{Type: t, ID: id}
}

// Name renders the display name used in violation payloads,
// e.g. "organization/567890".
func (r Resource) Name() string {
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

// Equal reports whether two resources denote the same hierarchy node.
func (r Resource) Equal(other Resource) bool {
	return r.Type == other.Type && r.ID == other.ID
}

// ParseName parses a rule ancestor string such as "organizations/567890" or
// "folders/42". It rejects anything that is not one of those two exact forms.
func ParseName(name string) (Resource, error) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return Resource{}, fmt.Errorf("invalid resource name %q: must match organizations/<id> or folders/<id>", name)
	}
	t := Organization
	if m[1] == "folders" {
		t = Folder
	}
	return Resource{Type: t, ID: m[2]}, nil
}

// TypeFromAPI maps a Cloud Resource Manager ancestry descriptor type
// ("organization", "folder", "project") to a Type.
func TypeFromAPI(s string) (Type, error) {
	switch Type(strings.ToLower(s)) {
	case Organization:
		return Organization, nil
	case Folder:
		return Folder, nil
	case Project:
		return Project, nil
	}
	return "", fmt.Errorf("unknown resource type %q", s)
}
