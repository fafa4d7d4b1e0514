package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSAPI is the subset of the SNS client used for digests.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes digests to an SNS topic given by its ARN.
type SNSPublisher struct {
	client SNSAPI
}

// NewSNSPublisher loads the default AWS configuration for region.
func NewSNSPublisher(ctx context.Context, region string) (*SNSPublisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SNSPublisher{client: sns.NewFromConfig(awsCfg)}, nil
}

func NewSNSPublisherWithClient(client SNSAPI) *SNSPublisher {
	return &SNSPublisher{client: client}
}

func (p *SNSPublisher) Publish(ctx context.Context, address string, digest Digest) error {
	topicARN := strings.TrimSpace(address)
	if !strings.HasPrefix(topicARN, "arn:") {
		return fmt.Errorf("sns target %q is not a topic arn", address)
	}
	payload, err := digest.encode()
	if err != nil {
		return err
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Subject:  aws.String(digest.Subject()),
		Message:  aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}
