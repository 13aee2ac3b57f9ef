package remote

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulebridge/rulebridge/errors"
	"github.com/rulebridge/rulebridge/format"
)

type fakeInvoker struct {
	lastInput *lambda.InvokeInput
	output    *lambda.InvokeOutput
	err       error
}

func (f *fakeInvoker) Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.lastInput = params
	return f.output, f.err
}

func TestLambdaTranslator_Translate(t *testing.T) {
	invoker := &fakeInvoker{
		output: &lambda.InvokeOutput{
			Payload: []byte(`{"translated_content":"rule converted {}","confidence":0.88}`),
		},
	}
	tr := NewLambdaTranslatorWithClient(invoker, "rule-translator")

	got, err := tr.Translate(context.Background(), "sigma rule body", format.Sigma, format.YARA)
	require.NoError(t, err)
	assert.Equal(t, "rule converted {}", got.TranslatedContent)
	assert.InDelta(t, 0.88, got.RawConfidence, 1e-9)

	require.NotNil(t, invoker.lastInput)
	assert.Equal(t, "rule-translator", aws.ToString(invoker.lastInput.FunctionName))
	assert.Contains(t, string(invoker.lastInput.Payload), `"source_format":"sigma"`)
	assert.Contains(t, string(invoker.lastInput.Payload), `"target_format":"yara"`)
}

func TestLambdaTranslator_FunctionError(t *testing.T) {
	invoker := &fakeInvoker{
		output: &lambda.InvokeOutput{
			FunctionError: aws.String("Unhandled"),
			Payload:       []byte(`{"errorMessage":"out of memory"}`),
		},
	}
	tr := NewLambdaTranslatorWithClient(invoker, "rule-translator")

	_, err := tr.Translate(context.Background(), "rule", format.Sigma, format.YARA)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBackendResponse)
	assert.Contains(t, err.Error(), "Unhandled")
}

func TestLambdaTranslator_InvokeFailure(t *testing.T) {
	invoker := &fakeInvoker{err: stderrors.New("throttled by service")}
	tr := NewLambdaTranslatorWithClient(invoker, "rule-translator")

	_, err := tr.Translate(context.Background(), "rule", format.Sigma, format.YARA)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBackendFailure)
}

func TestLambdaTranslator_ErrorField(t *testing.T) {
	invoker := &fakeInvoker{
		output: &lambda.InvokeOutput{
			Payload: []byte(`{"error":"unsupported pair"}`),
		},
	}
	tr := NewLambdaTranslatorWithClient(invoker, "rule-translator")

	_, err := tr.Translate(context.Background(), "rule", format.Sigma, format.YARA)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBackendResponse)
}
