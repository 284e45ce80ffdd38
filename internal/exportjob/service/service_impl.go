package service

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/omnisonic/coda/internal/blob"
	"github.com/omnisonic/coda/internal/clock"
	"github.com/omnisonic/coda/internal/config"
	"github.com/omnisonic/coda/internal/events"
	"github.com/omnisonic/coda/internal/exportjob/domain"
	"github.com/omnisonic/coda/internal/observability/metrics"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Redis      *goredis.Client
	Cfg        config.Config
	Log        *zap.Logger
	Clock      clock.Clock
	Blob       blob.Store
	Bus        events.Bus       `optional:"true"`
	ObsMetrics *metrics.Metrics `optional:"true"`
}

type service struct {
	db      *gorm.DB
	redis   *goredis.Client
	queue   string
	log     *zap.Logger
	clock   clock.Clock
	blob    blob.Store
	bus     events.Bus
	metrics *metrics.Metrics

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewService(p Params) domain.Service {
	return &service{
		db:      p.DB,
		redis:   p.Redis,
		queue:   p.Cfg.ExportQueueName,
		log:     p.Log.Named("export.service"),
		clock:   p.Clock,
		blob:    p.Blob,
		bus:     p.Bus,
		metrics: p.ObsMetrics,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (s *service) newJobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.clock.Now()), s.entropy).String()
}

func (s *service) Enqueue(ctx context.Context, req domain.EnqueueRequest, requestedBy string) (domain.Job, error) {
	if strings.TrimSpace(req.RoomID) == "" {
		return domain.Job{}, domain.ErrInvalidRoomID
	}
	if strings.TrimSpace(req.WorkID) == "" {
		return domain.Job{}, domain.ErrInvalidWorkID
	}
	format, err := domain.ParseFormat(req.Format)
	if err != nil {
		return domain.Job{}, err
	}

	now := s.clock.Now().UTC()
	job := domain.Job{
		ID:          s.newJobID(),
		RoomID:      strings.TrimSpace(req.RoomID),
		WorkID:      strings.TrimSpace(req.WorkID),
		RequestedBy: requestedBy,
		Title:       strings.TrimSpace(req.Title),
		Format:      format,
		Status:      domain.StatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		return domain.Job{}, err
	}

	// The queue entry is only the job id; the worker reloads the row so a
	// requeue after a crash never acts on stale descriptors.
	if err := s.redis.LPush(ctx, s.queue, job.ID).Err(); err != nil {
		return domain.Job{}, err
	}

	s.log.Info("export job enqueued",
		zap.String("job_id", job.ID),
		zap.String("room_id", job.RoomID),
		zap.String("format", string(job.Format)),
	)
	if s.metrics != nil {
		s.metrics.RecordExportEnqueued(ctx, string(job.Format))
	}
	publishProgress(ctx, s.bus, s.log, job)
	return job, nil
}

func (s *service) Get(ctx context.Context, jobID string) (domain.Job, error) {
	var job domain.Job
	if err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Job{}, domain.ErrJobNotFound
		}
		return domain.Job{}, err
	}
	return job, nil
}

func (s *service) DownloadURL(ctx context.Context, jobID string, ttlSeconds int64) (string, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != domain.StatusComplete || job.FileKey == nil {
		return "", domain.ErrArtifactNotReady
	}
	return s.blob.SignedDownloadURL(*job.FileKey, ttlSeconds)
}

// publishProgress fans a job state change out on the bus: once on the
// per-job topic and once on the firehose the gateway relay listens to.
func publishProgress(ctx context.Context, bus events.Bus, log *zap.Logger, job domain.Job) {
	if bus == nil {
		return
	}
	payload := map[string]any{
		"jobId":    job.ID,
		"roomId":   job.RoomID,
		"status":   string(job.Status),
		"progress": job.Progress,
	}
	if job.FileURL != nil {
		payload["fileUrl"] = *job.FileURL
	}
	if job.ErrorMessage != nil {
		payload["errorMessage"] = *job.ErrorMessage
	}
	for _, topic := range []string{events.ExportProgress(job.ID), events.TopicExportProgressAll} {
		if err := bus.Publish(ctx, topic, payload); err != nil {
			log.Warn("publish export progress failed",
				zap.String("job_id", job.ID),
				zap.String("topic", topic),
				zap.Error(err),
			)
		}
	}
}
