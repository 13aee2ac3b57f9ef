package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/rulebridge/rulebridge/errors"
	"github.com/rulebridge/rulebridge/format"
)

// lambdaInvoker is the slice of the Lambda client we use.
type lambdaInvoker interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaTranslator invokes a translation function deployed on AWS Lambda.
type LambdaTranslator struct {
	client       lambdaInvoker
	functionName string
}

// NewLambdaTranslator resolves AWS configuration from the environment and
// builds a translator bound to functionName.
func NewLambdaTranslator(ctx context.Context, functionName string) (*LambdaTranslator, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.WrapInfra(err, "remote", "NewLambdaTranslator", "load aws config")
	}
	return &LambdaTranslator{
		client:       lambda.NewFromConfig(cfg),
		functionName: functionName,
	}, nil
}

// NewLambdaTranslatorWithClient builds a translator around an existing
// client. Used by tests and callers that manage AWS config themselves.
func NewLambdaTranslatorWithClient(client lambdaInvoker, functionName string) *LambdaTranslator {
	return &LambdaTranslator{client: client, functionName: functionName}
}

type lambdaTranslatePayload struct {
	Content      string `json:"content"`
	SourceFormat string `json:"source_format"`
	TargetFormat string `json:"target_format"`
}

type lambdaTranslateResult struct {
	TranslatedContent string  `json:"translated_content"`
	Confidence        float64 `json:"confidence"`
	Error             string  `json:"error,omitempty"`
}

// Translate invokes the function synchronously and decodes its payload.
func (l *LambdaTranslator) Translate(ctx context.Context, content string, src, dst format.Format) (Translation, error) {
	payload, err := json.Marshal(lambdaTranslatePayload{
		Content:      content,
		SourceFormat: src.String(),
		TargetFormat: dst.String(),
	})
	if err != nil {
		return Translation{}, errors.WrapInfra(err, "remote", "Translate", "encode lambda payload")
	}

	out, err := l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: aws.String(l.functionName),
		Payload:      payload,
	})
	if err != nil {
		return Translation{}, errors.WrapDownstream(
			fmt.Errorf("%w: %v", errors.ErrBackendFailure, err),
			"remote", "Translate", "invoke lambda")
	}
	if out.FunctionError != nil {
		return Translation{}, errors.WrapDownstream(
			fmt.Errorf("%w: function error %s: %s",
				errors.ErrBackendResponse, aws.ToString(out.FunctionError), truncate(out.Payload, 256)),
			"remote", "Translate", "invoke lambda")
	}

	var result lambdaTranslateResult
	if err := json.Unmarshal(out.Payload, &result); err != nil {
		return Translation{}, errors.WrapDownstream(
			fmt.Errorf("%w: decode payload: %v", errors.ErrBackendResponse, err),
			"remote", "Translate", "decode lambda response")
	}
	if result.Error != "" {
		return Translation{}, errors.WrapDownstream(
			fmt.Errorf("%w: %s", errors.ErrBackendResponse, result.Error),
			"remote", "Translate", "decode lambda response")
	}

	return Translation{
		TranslatedContent: result.TranslatedContent,
		RawConfidence:     result.Confidence,
	}, nil
}
