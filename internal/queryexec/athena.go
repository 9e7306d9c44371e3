package queryexec

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/smithy-go"

	"order-analytics-pipeline/internal/storage"
)

// athenaAPI is the slice of the Athena client the adapter uses.
type athenaAPI interface {
	StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, opts ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, opts ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	StopQueryExecution(ctx context.Context, in *athena.StopQueryExecutionInput, opts ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
}

// AthenaService implements Service against AWS Athena. Result bytes are
// read back through the object store: Athena writes each execution's CSV
// under the configured results prefix as <id>.csv.
type AthenaService struct {
	client        athenaAPI
	store         storage.ObjectStore
	database      string
	workgroup     string
	resultsPrefix string
}

// NewAthenaService wires the adapter. resultsPrefix must match the output
// location submitted queries write to.
func NewAthenaService(client *athena.Client, store storage.ObjectStore, database, workgroup, resultsPrefix string) *AthenaService {
	return &AthenaService{
		client:        client,
		store:         store,
		database:      database,
		workgroup:     workgroup,
		resultsPrefix: resultsPrefix,
	}
}

func (s *AthenaService) Submit(ctx context.Context, sql, outputLocation string) (string, error) {
	input := &athena.StartQueryExecutionInput{
		QueryString: aws.String(sql),
		QueryExecutionContext: &types.QueryExecutionContext{
			Database: aws.String(s.database),
		},
		ResultConfiguration: &types.ResultConfiguration{
			OutputLocation: aws.String(outputLocation),
		},
	}
	if s.workgroup != "" {
		input.WorkGroup = aws.String(s.workgroup)
	}
	out, err := s.client.StartQueryExecution(ctx, input)
	if err != nil {
		return "", classify(err)
	}
	return aws.ToString(out.QueryExecutionId), nil
}

func (s *AthenaService) Poll(ctx context.Context, id string) (Poll, error) {
	out, err := s.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
		QueryExecutionId: aws.String(id),
	})
	if err != nil {
		return Poll{}, classify(err)
	}
	if out.QueryExecution == nil || out.QueryExecution.Status == nil {
		return Poll{}, Transient(errors.New("execution status missing"))
	}
	status := out.QueryExecution.Status
	switch status.State {
	case types.QueryExecutionStateQueued:
		return Poll{State: StateQueued}, nil
	case types.QueryExecutionStateRunning:
		return Poll{State: StateRunning}, nil
	case types.QueryExecutionStateSucceeded:
		return Poll{State: StateSucceeded}, nil
	case types.QueryExecutionStateFailed:
		return Poll{State: StateFailed, Reason: aws.ToString(status.StateChangeReason)}, nil
	case types.QueryExecutionStateCancelled:
		return Poll{State: StateFailed, Reason: "cancelled by execution service"}, nil
	default:
		return Poll{}, Transient(fmt.Errorf("unknown execution state %q", status.State))
	}
}

func (s *AthenaService) FetchResult(ctx context.Context, id string) ([]byte, error) {
	raw, err := s.store.Get(ctx, s.resultsPrefix+id+".csv")
	if err != nil {
		return nil, Transient(err)
	}
	return raw, nil
}

func (s *AthenaService) Cancel(ctx context.Context, id string) error {
	_, err := s.client.StopQueryExecution(ctx, &athena.StopQueryExecutionInput{
		QueryExecutionId: aws.String(id),
	})
	return err
}

// classify tags an Athena API error with retry semantics. Throttles and
// server faults are transient; anything else the service blamed on the
// request is permanent. Errors below the API layer (DNS, resets) arrive
// untagged and default to transient.
func classify(err error) error {
	var api smithy.APIError
	if !errors.As(err, &api) {
		return Transient(err)
	}
	switch api.ErrorCode() {
	case "TooManyRequestsException", "ThrottlingException":
		return Transient(err)
	case "InternalServerException":
		return Transient(err)
	case "InvalidRequestException", "ResourceNotFoundException", "AccessDeniedException":
		return Permanent(err)
	}
	if api.ErrorFault() == smithy.FaultServer {
		return Transient(err)
	}
	return Permanent(err)
}
