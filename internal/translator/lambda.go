package translator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/smithy-go"

	"github.com/valpere/regiontran/internal"
	"github.com/valpere/regiontran/internal/catalog"
)

type lambdaInvoker interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaBackend invokes a self-hosted translator function on AWS Lambda. The
// endpoint's model field names the function. Text only, batch only.
type LambdaBackend struct {
	region string

	once    sync.Once
	client  lambdaInvoker
	initErr error
}

func NewLambdaBackend(region string) *LambdaBackend {
	return &LambdaBackend{region: region}
}

func (s *LambdaBackend) Kind() string {
	return "lambda"
}

type lambdaRequest struct {
	Texts      []string `json:"texts"`
	TargetLang string   `json:"target_lang"`
}

type lambdaResponse struct {
	Translations []string `json:"translations"`
	Error        string   `json:"error,omitempty"`
}

// invoker loads the AWS configuration on first use so that catalogs without a
// lambda endpoint never need AWS credentials.
func (s *LambdaBackend) invoker(ctx context.Context) (lambdaInvoker, error) {
	s.once.Do(func() {
		if s.client != nil {
			return
		}
		var opts []func(*config.LoadOptions) error
		if s.region != "" {
			opts = append(opts, config.WithRegion(s.region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			s.initErr = internal.NewConfigurationError("failed to load AWS config: %v", err)
			return
		}
		s.client = lambda.NewFromConfig(cfg)
	})
	return s.client, s.initErr
}

func (s *LambdaBackend) Translate(ctx context.Context, ep catalog.EndpointDescriptor, req internal.TranslationRequest, _ ChunkFunc) (string, error) {
	if req.Payload.Kind != internal.PayloadText {
		return "", malformed(ep.ID, "lambda backend accepts text payloads only")
	}
	if req.Mode == internal.ModeStructured {
		return "", malformed(ep.ID, "lambda backend cannot produce structured output")
	}
	if ep.Model == "" {
		return "", internal.NewConfigurationError("endpoint %s: lambda endpoint needs the function name in model", ep.ID)
	}

	client, err := s.invoker(ctx)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(lambdaRequest{
		Texts:      []string{req.Payload.Text},
		TargetLang: req.TargetLanguage,
	})
	if err != nil {
		return "", malformed(ep.ID, "failed to marshal request: %v", err)
	}

	result, err := client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: aws.String(ep.Model),
		Payload:      payload,
	})
	if err != nil {
		return "", classifyLambdaError(ep.ID, err)
	}

	if result.FunctionError != nil {
		return "", newEndpointError(ep.ID, Unknown, fmt.Errorf("lambda error: %s", aws.ToString(result.FunctionError)))
	}

	var resp lambdaResponse
	if err := json.Unmarshal(result.Payload, &resp); err != nil {
		return "", malformed(ep.ID, "failed to parse response: %v", err)
	}
	if resp.Error != "" {
		return "", newEndpointError(ep.ID, Unknown, fmt.Errorf("translator error: %s", resp.Error))
	}
	if len(resp.Translations) == 0 {
		return "", malformed(ep.ID, "no translation returned")
	}

	return resp.Translations[0], nil
}

func classifyLambdaError(endpoint string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var (
		tooMany    *types.TooManyRequestsException
		throttled  *types.EC2ThrottledException
		service    *types.ServiceException
		notReady   *types.ResourceNotReadyException
		badContent *types.InvalidRequestContentException
		tooLarge   *types.RequestTooLargeException
		notFound   *types.ResourceNotFoundException
	)

	switch {
	case errors.As(err, &tooMany), errors.As(err, &throttled):
		return newEndpointError(endpoint, RateLimited, err)
	case errors.As(err, &service), errors.As(err, &notReady):
		return newEndpointError(endpoint, Unavailable, err)
	case errors.As(err, &badContent), errors.As(err, &tooLarge), errors.As(err, &notFound):
		return newEndpointError(endpoint, Malformed, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorFault() == smithy.FaultServer {
			return newEndpointError(endpoint, Overloaded, err)
		}
		return newEndpointError(endpoint, Unknown, err)
	}
	return newEndpointError(endpoint, Unavailable, fmt.Errorf("failed to invoke %s: %w", endpoint, err))
}

func (s *LambdaBackend) IsAvailable(ctx context.Context) error {
	_, err := s.invoker(ctx)
	return err
}
