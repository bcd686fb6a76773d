// Package directory provides the people and org-unit lookups used by condition and assignment rules.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dukex/onboardflow/pkg/models"
	"github.com/dukex/onboardflow/pkg/rules"
	"gopkg.in/yaml.v3"
)

// User is one entry of the people directory.
type User struct {
	ManagerID string `json:"manager_id,omitempty" yaml:"manager_id,omitempty"`
}

// Data is the document a Static directory is loaded from.
//
//	{
//	  "users":  {"u1": {"manager_id": "u2"}, "u2": {}},
//	  "groups": {"it-admins": ["u1", "u2"]},
//	  "units":  {"department": {"backend": "engineering", "engineering": ""}}
//	}
//
// Units map each unit id to its parent id per dimension. An empty parent marks a root.
type Data struct {
	Users  map[string]User                       `json:"users"  yaml:"users"`
	Groups map[string][]string                   `json:"groups" yaml:"groups"`
	Units  map[models.OrgField]map[string]string `json:"units"  yaml:"units"`
}

// Static is an immutable in-memory directory and org hierarchy.
type Static struct {
	data Data
}

// NewStatic builds a directory from data.
func NewStatic(data Data) *Static {
	if data.Users == nil {
		data.Users = map[string]User{}
	}

	if data.Groups == nil {
		data.Groups = map[string][]string{}
	}

	if data.Units == nil {
		data.Units = map[models.OrgField]map[string]string{}
	}

	return &Static{data: data}
}

// LoadFile reads a directory document. Files ending in .yaml or .yml are decoded as YAML, anything else as JSON.
func LoadFile(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}

	var data Data

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &data)
	default:
		err = json.Unmarshal(raw, &data)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse directory file %s: %w", path, err)
	}

	return NewStatic(data), nil
}

func (s *Static) ManagerOf(_ context.Context, userID string) (string, error) {
	user, ok := s.data.Users[userID]
	if !ok {
		return "", fmt.Errorf("%w: user %q", rules.ErrUnknownEntity, userID)
	}

	return user.ManagerID, nil
}

func (s *Static) UserExists(_ context.Context, userID string) (bool, error) {
	_, ok := s.data.Users[userID]

	return ok, nil
}

func (s *Static) GroupMembers(_ context.Context, groupID string) ([]string, error) {
	members, ok := s.data.Groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: group %q", rules.ErrUnknownEntity, groupID)
	}

	return slices.Clone(members), nil
}

// IsAncestor walks the parent chain of descendantID. A unit is not its own ancestor.
func (s *Static) IsAncestor(_ context.Context, field models.OrgField, ancestorID, descendantID string) (bool, error) {
	parents := s.data.Units[field]

	if _, ok := parents[ancestorID]; !ok {
		return false, fmt.Errorf("%w: %s unit %q", rules.ErrUnknownEntity, field, ancestorID)
	}

	parent, ok := parents[descendantID]
	if !ok {
		return false, fmt.Errorf("%w: %s unit %q", rules.ErrUnknownEntity, field, descendantID)
	}

	seen := map[string]bool{descendantID: true}

	for parent != "" && !seen[parent] {
		if parent == ancestorID {
			return true, nil
		}

		seen[parent] = true
		parent = parents[parent]
	}

	return false, nil
}
