package aws

import (
	"fmt"

	awssdk "github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
)

// Config carries the connection settings shared by every S3 backed
// component. Credentials are resolved by the SDK default chain.
type Config struct {
	Region         string
	Endpoint       string
	ForcePathStyle bool
}

// NewSession builds an SDK session from the config. An empty endpoint
// targets AWS proper; setting one points at S3 compatible stores.
func NewSession(cfg Config) (*session.Session, error) {
	awsConfig := &awssdk.Config{
		Region:           awssdk.String(cfg.Region),
		S3ForcePathStyle: awssdk.Bool(cfg.ForcePathStyle),
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = awssdk.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("creating aws session: %w", err)
	}
	return sess, nil
}
