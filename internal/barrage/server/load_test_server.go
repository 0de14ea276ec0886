package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/barrageproject/barrage/internal/barrage/configuration"
	"github.com/barrageproject/barrage/internal/barrage/model"
	"github.com/barrageproject/barrage/internal/barrage/queue"
	"github.com/barrageproject/barrage/internal/barrage/repository"
	"github.com/barrageproject/barrage/internal/common/barrageerrors"
	"github.com/barrageproject/barrage/internal/common/util"
)

// TestSpec is the client-supplied configuration of a load test.
type TestSpec struct {
	Name              string `validate:"required"`
	Description       string
	TargetURL         string `validate:"required,url"`
	Method            string `validate:"required,oneof=GET POST PUT DELETE PATCH"`
	ConcurrentUsers   int    `validate:"min=1,max=10000"`
	TotalRequests     int    `validate:"min=1"`
	DurationSeconds   int    `validate:"min=1,max=3600"`
	RequestsPerSecond int    `validate:"min=1,max=10000"`
	Headers           map[string]string
	Body              map[string]interface{}
}

// TestSpecUpdate carries a partial update; nil fields are left unchanged.
type TestSpecUpdate struct {
	Name              *string
	Description       *string
	TargetURL         *string
	Method            *string
	ConcurrentUsers   *int
	TotalRequests     *int
	DurationSeconds   *int
	RequestsPerSecond *int
	Headers           map[string]string
	Body              map[string]interface{}
}

// PlanResolver maps an owner onto the name of their plan.
type PlanResolver interface {
	PlanFor(ownerID string) string
}

// StaticPlanResolver resolves plans from configuration.
type StaticPlanResolver struct {
	ownerPlans map[string]string
}

func NewStaticPlanResolver(ownerPlans map[string]string) *StaticPlanResolver {
	return &StaticPlanResolver{ownerPlans: ownerPlans}
}

func (r *StaticPlanResolver) PlanFor(ownerID string) string {
	return r.ownerPlans[ownerID]
}

// LoadTestServer owns the lifecycle of load tests: submission, the state
// machine transitions, and dispatching started tests to workers.
type LoadTestServer struct {
	tests           repository.LoadTestRepository
	results         repository.TestResultRepository
	publisher       queue.Publisher
	dispatchChannel string
	limits          configuration.LimitsConfig
	plans           PlanResolver
	clock           util.Clock
	validate        *validator.Validate
}

func NewLoadTestServer(
	tests repository.LoadTestRepository,
	results repository.TestResultRepository,
	publisher queue.Publisher,
	dispatchChannel string,
	limits configuration.LimitsConfig,
	plans PlanResolver,
) *LoadTestServer {
	return &LoadTestServer{
		tests:           tests,
		results:         results,
		publisher:       publisher,
		dispatchChannel: dispatchChannel,
		limits:          limits,
		plans:           plans,
		clock:           &util.DefaultClock{},
		validate:        validator.New(),
	}
}

func (s *LoadTestServer) WithClock(clock util.Clock) *LoadTestServer {
	s.clock = clock
	return s
}

// SubmitTest validates the spec against model bounds and the owner's plan
// limits and creates the test in pending.
func (s *LoadTestServer) SubmitTest(ctx context.Context, ownerID string, spec TestSpec) (*model.LoadTest, error) {
	if err := s.validateSpec(ownerID, spec); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	test := &model.LoadTest{
		ID:                util.NewUUID(),
		OwnerID:           ownerID,
		Name:              spec.Name,
		Description:       spec.Description,
		TargetURL:         spec.TargetURL,
		Method:            spec.Method,
		ConcurrentUsers:   spec.ConcurrentUsers,
		TotalRequests:     spec.TotalRequests,
		DurationSeconds:   spec.DurationSeconds,
		RequestsPerSecond: spec.RequestsPerSecond,
		Headers:           spec.Headers,
		Body:              spec.Body,
		Status:            model.TestPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.tests.Create(ctx, test); err != nil {
		return nil, err
	}
	log.WithField("testId", test.ID).Info("load test submitted")
	return test, nil
}

// StartTest transitions a test to queued and publishes the dispatch message.
// Retriable from any non-queued, non-running state. The conditional status
// update serializes concurrent starts, so at most one dispatch message is
// published per transition; if the publish fails the transition is rolled
// back rather than leaving a queued test with no dispatched job.
func (s *LoadTestServer) StartTest(ctx context.Context, id string, ownerID string) (*model.LoadTest, error) {
	test, err := s.tests.GetForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	startedAt := s.clock.Now().UTC()
	queued, err := s.tests.ApplyStatusUpdate(ctx, repository.StatusUpdate{
		TestID:           id,
		Expected:         []model.TestStatus{model.TestPending, model.TestCompleted, model.TestFailed, model.TestCancelled},
		Target:           model.TestQueued,
		SetStartedAt:     &startedAt,
		ClearCompletedAt: true,
	})
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(&queue.DispatchMessage{
		TestID:            queued.ID,
		TargetURL:         queued.TargetURL,
		Method:            queued.Method,
		ConcurrentUsers:   queued.ConcurrentUsers,
		TotalRequests:     queued.TotalRequests,
		DurationSeconds:   queued.DurationSeconds,
		RequestsPerSecond: queued.RequestsPerSecond,
		Headers:           queued.Headers,
		Body:              queued.Body,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "error marshalling dispatch message")
	}

	if err := s.publisher.Publish(s.dispatchChannel, payload); err != nil {
		log.WithError(err).WithField("testId", id).Error("dispatch publish failed, rolling back queued transition")
		s.rollbackStart(ctx, test)
		return nil, &barrageerrors.ErrUnavailable{Component: "dispatch queue", Message: err.Error()}
	}

	log.WithField("testId", id).Info("load test dispatched")
	return queued, nil
}

// rollbackStart is the compensation for a failed dispatch publish: it restores
// the status and timestamps the test had before the queued transition.
func (s *LoadTestServer) rollbackStart(ctx context.Context, previous *model.LoadTest) {
	rollback := repository.StatusUpdate{
		TestID:   previous.ID,
		Expected: []model.TestStatus{model.TestQueued},
		Target:   previous.Status,
	}
	if previous.StartedAt != nil {
		rollback.SetStartedAt = previous.StartedAt
	} else {
		rollback.ClearStartedAt = true
	}
	if previous.CompletedAt != nil {
		rollback.SetCompletedAt = previous.CompletedAt
	}
	if _, err := s.tests.ApplyStatusUpdate(ctx, rollback); err != nil {
		log.WithError(err).WithField("testId", previous.ID).Error("could not roll back queued transition")
	}
}

// StopTest cancels a queued or running test. Cancellation is advisory toward
// the worker; the control-plane record is updated immediately.
func (s *LoadTestServer) StopTest(ctx context.Context, id string, ownerID string) (*model.LoadTest, error) {
	if _, err := s.tests.GetForOwner(ctx, id, ownerID); err != nil {
		return nil, err
	}
	completedAt := s.clock.Now().UTC()
	cancelled, err := s.tests.ApplyStatusUpdate(ctx, repository.StatusUpdate{
		TestID:         id,
		Expected:       []model.TestStatus{model.TestQueued, model.TestRunning},
		Target:         model.TestCancelled,
		SetCompletedAt: &completedAt,
	})
	if err != nil {
		return nil, err
	}
	log.WithField("testId", id).Info("load test cancelled")
	return cancelled, nil
}

// MarkTestTerminal is the internal transition applied by the ingestion
// pipeline. Idempotent: re-applying the terminal status already on file is a
// no-op; a different terminal status is logged and not applied.
func (s *LoadTestServer) MarkTestTerminal(ctx context.Context, id string, status model.TestStatus, completedAt time.Time) error {
	if !status.IsTerminal() {
		return &barrageerrors.ErrInvalidArgument{Name: "status", Value: status, Message: "not a terminal status"}
	}
	_, err := s.tests.ApplyStatusUpdate(ctx, repository.StatusUpdate{
		TestID:         id,
		Expected:       []model.TestStatus{model.TestQueued, model.TestRunning},
		Target:         status,
		SetCompletedAt: &completedAt,
	})
	if barrageerrors.IsConflict(err) {
		current, getErr := s.tests.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if current.Status == status {
			return nil
		}
		log.WithFields(log.Fields{
			"testId":   id,
			"current":  current.Status,
			"reported": status,
		}).Warn("conflicting terminal status reported, keeping status on file")
		return nil
	}
	return err
}

// GetTest returns a single test scoped to its owner.
func (s *LoadTestServer) GetTest(ctx context.Context, id string, ownerID string) (*model.LoadTest, error) {
	return s.tests.GetForOwner(ctx, id, ownerID)
}

// ListTests returns all of an owner's tests, newest first.
func (s *LoadTestServer) ListTests(ctx context.Context, ownerID string) ([]*model.LoadTest, error) {
	return s.tests.ListForOwner(ctx, ownerID)
}

// UpdateTest applies a partial configuration update. Rejected once the test
// is running or terminal.
func (s *LoadTestServer) UpdateTest(ctx context.Context, id string, ownerID string, update TestSpecUpdate) (*model.LoadTest, error) {
	current, err := s.tests.GetForOwner(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if current.Status == model.TestRunning || current.Status.IsTerminal() {
		return nil, &barrageerrors.ErrConflict{
			Type:    "load test",
			Value:   id,
			Status:  string(current.Status),
			Message: "cannot update test",
		}
	}

	merged := *current
	if update.Name != nil {
		merged.Name = *update.Name
	}
	if update.Description != nil {
		merged.Description = *update.Description
	}
	if update.TargetURL != nil {
		merged.TargetURL = *update.TargetURL
	}
	if update.Method != nil {
		merged.Method = *update.Method
	}
	if update.ConcurrentUsers != nil {
		merged.ConcurrentUsers = *update.ConcurrentUsers
	}
	if update.TotalRequests != nil {
		merged.TotalRequests = *update.TotalRequests
	}
	if update.DurationSeconds != nil {
		merged.DurationSeconds = *update.DurationSeconds
	}
	if update.RequestsPerSecond != nil {
		merged.RequestsPerSecond = *update.RequestsPerSecond
	}
	if update.Headers != nil {
		merged.Headers = update.Headers
	}
	if update.Body != nil {
		merged.Body = update.Body
	}

	if err := s.validateSpec(ownerID, TestSpec{
		Name:              merged.Name,
		Description:       merged.Description,
		TargetURL:         merged.TargetURL,
		Method:            merged.Method,
		ConcurrentUsers:   merged.ConcurrentUsers,
		TotalRequests:     merged.TotalRequests,
		DurationSeconds:   merged.DurationSeconds,
		RequestsPerSecond: merged.RequestsPerSecond,
	}); err != nil {
		return nil, err
	}

	return s.tests.UpdateSpec(ctx, &merged)
}

// DeleteTest removes a test and its metrics and result. Refused while the
// test is running.
func (s *LoadTestServer) DeleteTest(ctx context.Context, id string, ownerID string) error {
	return s.tests.Delete(ctx, id, ownerID)
}

// GetTestResult returns the final result of a test, scoped to its owner.
func (s *LoadTestServer) GetTestResult(ctx context.Context, id string, ownerID string) (*model.TestResult, error) {
	if _, err := s.tests.GetForOwner(ctx, id, ownerID); err != nil {
		return nil, err
	}
	return s.results.FindByLoadTest(ctx, id)
}

func (s *LoadTestServer) validateSpec(ownerID string, spec TestSpec) error {
	if err := s.validate.Struct(spec); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			first := validationErrors[0]
			return &barrageerrors.ErrInvalidArgument{
				Name:    first.Field(),
				Value:   first.Value(),
				Message: fmt.Sprintf("failed %q validation", first.Tag()),
			}
		}
		return err
	}

	limits := s.limits.ForPlan(s.plans.PlanFor(ownerID))
	if limits.MaxRequestsPerSecond > 0 && spec.RequestsPerSecond > limits.MaxRequestsPerSecond {
		return &barrageerrors.ErrInvalidArgument{
			Name:    "requestsPerSecond",
			Value:   spec.RequestsPerSecond,
			Message: fmt.Sprintf("requests per second cannot exceed %d on your plan", limits.MaxRequestsPerSecond),
		}
	}
	if limits.MaxDurationSeconds > 0 && spec.DurationSeconds > limits.MaxDurationSeconds {
		return &barrageerrors.ErrInvalidArgument{
			Name:    "durationSeconds",
			Value:   spec.DurationSeconds,
			Message: fmt.Sprintf("duration cannot exceed %d seconds on your plan", limits.MaxDurationSeconds),
		}
	}
	if limits.MaxConcurrentUsers > 0 && spec.ConcurrentUsers > limits.MaxConcurrentUsers {
		return &barrageerrors.ErrInvalidArgument{
			Name:    "concurrentUsers",
			Value:   spec.ConcurrentUsers,
			Message: fmt.Sprintf("concurrent users cannot exceed %d on your plan", limits.MaxConcurrentUsers),
		}
	}
	return nil
}
