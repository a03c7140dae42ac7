package studio

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/studio-gateway/internal/events"
)

// Service runs studio operations against a Provisioner. Errors from the
// provisioner are returned unchanged.
type Service struct {
	provisioner Provisioner
	emitter     events.Emitter
	clock       Clock
	ids         IDGenerator
	logger      *zap.Logger
}

// NewService wires a Service. A nil emitter discards events, a nil clock uses
// time.Now, and a nil logger is replaced with a no-op one.
func NewService(
	provisioner Provisioner,
	emitter events.Emitter,
	clock Clock,
	ids IDGenerator,
	logger *zap.Logger,
) *Service {
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if clock == nil {
		clock = wallClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		provisioner: provisioner,
		emitter:     emitter,
		clock:       clock,
		ids:         ids,
		logger:      logger,
	}
}

// Start creates the studio if needed and starts it.
func (s *Service) Start(ctx context.Context, creds Credentials, ref Ref) (Studio, error) {
	if err := creds.Validate(); err != nil {
		return Studio{}, err
	}
	base := events.Event{
		OperationID: s.operationID(),
		RequestID:   RequestIDFrom(ctx),
		Name:        ref.Name,
		Teamspace:   ref.Teamspace,
		User:        ref.User,
	}
	logger := s.logger.With(
		zap.String("operation_id", base.OperationID),
		zap.String("name", ref.Name),
		zap.String("teamspace", ref.Teamspace),
		zap.String("user", ref.User),
	)

	began := s.clock.Now()
	s.emit(base, events.StageStartRequested, began, 0)
	logger.Debug("starting studio")

	st, err := s.provisioner.StartStudio(ctx, creds, ref)
	finished := s.clock.Now()
	if err != nil {
		failed := base
		failed.Note = err.Error()
		s.emit(failed, events.StageStartFailed, finished, finished.Sub(began))
		logger.Warn("studio start failed", zap.Error(err))
		return Studio{}, err
	}

	done := base
	done.StudioID = st.ID
	done.Status = st.Status
	s.emit(done, events.StageStarted, finished, finished.Sub(began))
	logger.Info("studio started",
		zap.String("studio_id", st.ID),
		zap.String("status", st.Status),
		zap.Duration("elapsed", finished.Sub(began)),
	)
	return st, nil
}

// Stop resolves the studio by ID and stops it.
func (s *Service) Stop(ctx context.Context, creds Credentials, studioID string) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	base := events.Event{
		OperationID: s.operationID(),
		RequestID:   RequestIDFrom(ctx),
		StudioID:    studioID,
		User:        creds.UserID,
	}
	logger := s.logger.With(
		zap.String("operation_id", base.OperationID),
		zap.String("studio_id", studioID),
	)

	began := s.clock.Now()
	s.emit(base, events.StageStopRequested, began, 0)
	logger.Debug("stopping studio")

	err := s.provisioner.StopStudio(ctx, creds, studioID)
	finished := s.clock.Now()
	if err != nil {
		failed := base
		failed.Note = err.Error()
		s.emit(failed, events.StageStopFailed, finished, finished.Sub(began))
		logger.Warn("studio stop failed", zap.Error(err))
		return err
	}
	s.emit(base, events.StageStopped, finished, finished.Sub(began))
	logger.Info("studio stopped", zap.Duration("elapsed", finished.Sub(began)))
	return nil
}

func (s *Service) emit(evt events.Event, stage events.Stage, ts time.Time, dur time.Duration) {
	evt.Stage = stage
	evt.TS = ts.UTC()
	if dur > 0 {
		evt.Dur = dur
	}
	s.emitter.Emit(evt)
}

func (s *Service) operationID() string {
	if s.ids != nil {
		if id, err := s.ids.NewID(); err == nil {
			return id
		}
	}
	return uuid.NewString()
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
