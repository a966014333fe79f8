package policy

import (
	"encoding/json"
	"fmt"
)

type resourceStatement struct {
	Sid       string                       `json:"Sid"`
	Effect    string                       `json:"Effect"`
	Principal string                       `json:"Principal"`
	Action    string                       `json:"Action"`
	Resource  []string                     `json:"Resource"`
	Condition map[string]map[string]string `json:"Condition"`
}

type resourceDocument struct {
	Version   string              `json:"Version"`
	Statement []resourceStatement `json:"Statement"`
}

// TLSOnlyBucketPolicy renders a bucket policy denying every request not made over TLS
func TLSOnlyBucketPolicy(partition, bucket string) (string, error) {
	if partition == "" || bucket == "" {
		return "", fmt.Errorf("partition and bucket are required")
	}
	bucketARN := fmt.Sprintf("arn:%s:s3:::%s", partition, bucket)
	doc := resourceDocument{
		Version: Version,
		Statement: []resourceStatement{{
			Sid:       "DenyInsecureTransport",
			Effect:    "Deny",
			Principal: "*",
			Action:    "s3:*",
			Resource:  []string{bucketARN, bucketARN + "/*"},
			Condition: map[string]map[string]string{
				"Bool": {"aws:SecureTransport": "false"},
			},
		}},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bucket policy: %w", err)
	}
	return string(data), nil
}
