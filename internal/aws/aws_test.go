package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	lastInput *sqs.SendMessageInput
	err       error
}

func (f *fakeSQS) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastInput = params
	return &sqs.SendMessageOutput{}, nil
}

type fakeCloudWatch struct {
	lastInput *cloudwatch.PutMetricDataInput
	err       error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastInput = params
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestLoadAWSConfig_RegionFromEnv(t *testing.T) {
	t.Setenv("AWS_REGION", "us-east-1")
	cfg, err := LoadAWSConfig(context.Background())
	require.NoError(t, err)
	require.Equal(t, "us-east-1", cfg.Region)
}

func TestLoadAWSConfig_DefaultRegion(t *testing.T) {
	t.Setenv("AWS_REGION", "")
	cfg, err := LoadAWSConfig(context.Background())
	require.NoError(t, err)
	require.Equal(t, "eu-west-2", cfg.Region)
}

func TestPublisher_SendSubmissionMessage(t *testing.T) {
	fake := &fakeSQS{}
	p := NewPublisher(fake, "https://sqs.eu-west-2.amazonaws.com/123/submissions")

	err := p.SendSubmissionMessage(context.Background(), `{"submission_id":"sub-1"}`, map[string]string{
		"submission_id": "sub-1",
	})
	require.NoError(t, err)
	require.NotNil(t, fake.lastInput)
	require.Equal(t, p.QueueURL, *fake.lastInput.QueueUrl)
	require.Equal(t, `{"submission_id":"sub-1"}`, *fake.lastInput.MessageBody)

	attr, ok := fake.lastInput.MessageAttributes["submission_id"]
	require.True(t, ok)
	require.Equal(t, "String", *attr.DataType)
	require.Equal(t, "sub-1", *attr.StringValue)
}

func TestPublisher_SendError(t *testing.T) {
	fake := &fakeSQS{err: errors.New("queue unavailable")}
	p := NewPublisher(fake, "https://example/queue")
	err := p.SendSubmissionMessage(context.Background(), "{}", nil)
	require.Error(t, err)
}

func TestMetrics_Count(t *testing.T) {
	fake := &fakeCloudWatch{}
	m := NewMetrics(fake, "OpsStackBuilder")

	err := m.Count(context.Background(), "SubmissionReviewed", 1, map[string]string{"Reference": "REF-ABCD1234"})
	require.NoError(t, err)
	require.NotNil(t, fake.lastInput)
	require.Equal(t, "OpsStackBuilder", *fake.lastInput.Namespace)
	require.Len(t, fake.lastInput.MetricData, 1)

	datum := fake.lastInput.MetricData[0]
	require.Equal(t, "SubmissionReviewed", *datum.MetricName)
	require.Equal(t, float64(1), *datum.Value)
	require.Len(t, datum.Dimensions, 1)
	require.Equal(t, "Reference", *datum.Dimensions[0].Name)
}

func TestMetrics_NilClientIsNoOp(t *testing.T) {
	m := NewMetrics(nil, "OpsStackBuilder")
	require.NoError(t, m.Count(context.Background(), "Anything", 1, nil))
}
