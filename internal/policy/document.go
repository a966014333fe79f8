// Package policy builds the IAM grant sets for the job execution role and the job
// submission role, and enforces the boundary between them
package policy

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// Version is the IAM policy language version
const Version = "2012-10-17"

const effectAllow = "Allow"

// Statement is one (actions, resources) grant
type Statement struct {
	Sid      string   `json:"Sid,omitempty"`
	Effect   string   `json:"Effect"`
	Action   []string `json:"Action"`
	Resource []string `json:"Resource"`
}

// Document is an IAM identity policy document
type Document struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Allow builds an Allow statement
func Allow(sid string, actions []string, resources ...string) Statement {
	return Statement{
		Sid:      sid,
		Effect:   effectAllow,
		Action:   append([]string(nil), actions...),
		Resource: resources,
	}
}

// NewDocument creates a document from statements
func NewDocument(statements ...Statement) Document {
	return Document{Version: Version, Statement: statements}
}

// JSON renders the document
func (d Document) JSON() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal policy document: %w", err)
	}
	return string(data), nil
}

// Allows reports whether any Allow statement grants the action
func (d Document) Allows(action string) bool {
	return len(d.ResourcesFor(action)) > 0
}

// ResourcesFor returns every resource pattern on which the action is allowed
func (d Document) ResourcesFor(action string) []string {
	var resources []string
	for _, st := range d.Statement {
		if st.Effect != effectAllow {
			continue
		}
		for _, pattern := range st.Action {
			if actionMatches(pattern, action) {
				resources = append(resources, st.Resource...)
				break
			}
		}
	}
	return resources
}

// Actions returns all action patterns granted by the document
func (d Document) Actions() []string {
	var actions []string
	for _, st := range d.Statement {
		if st.Effect == effectAllow {
			actions = append(actions, st.Action...)
		}
	}
	return actions
}

// actionMatches applies IAM wildcard semantics (* and ?), case-insensitively
func actionMatches(pattern, action string) bool {
	ok, err := path.Match(strings.ToLower(pattern), strings.ToLower(action))
	return err == nil && ok
}

// isWildcard reports whether a resource pattern matches more than one literal resource
func isWildcard(resource string) bool {
	return strings.ContainsAny(resource, "*?")
}

// trustDocument is an IAM role trust (assume-role) policy
type trustDocument struct {
	Version   string           `json:"Version"`
	Statement []trustStatement `json:"Statement"`
}

type trustStatement struct {
	Effect    string         `json:"Effect"`
	Principal trustPrincipal `json:"Principal"`
	Action    string         `json:"Action"`
}

type trustPrincipal struct {
	Service string   `json:"Service"`
	AWS     []string `json:"AWS,omitempty"`
}

// TrustPolicy renders an assume-role policy for a service principal, optionally
// also trusting the given AWS principals (account roots or role ARNs)
func TrustPolicy(servicePrincipal string, awsPrincipals ...string) (string, error) {
	doc := trustDocument{
		Version: Version,
		Statement: []trustStatement{{
			Effect:    effectAllow,
			Principal: trustPrincipal{Service: servicePrincipal, AWS: awsPrincipals},
			Action:    "sts:AssumeRole",
		}},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trust policy: %w", err)
	}
	return string(data), nil
}
