package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/omnisonic/coda/internal/blob"
	"github.com/omnisonic/coda/internal/clock"
	"github.com/omnisonic/coda/internal/config"
	"github.com/omnisonic/coda/internal/events"
	"github.com/omnisonic/coda/internal/exportjob/domain"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Renderer produces the artifact bytes for a job. The audio pipeline runs in
// a separate fleet; the default renderer emits the job manifest that fleet
// consumes.
type Renderer interface {
	Render(ctx context.Context, job domain.Job) (data []byte, contentType string, err error)
}

type manifestRenderer struct {
	clock clock.Clock
}

func NewManifestRenderer(clk clock.Clock) Renderer {
	return manifestRenderer{clock: clk}
}

func (r manifestRenderer) Render(_ context.Context, job domain.Job) ([]byte, string, error) {
	manifest := map[string]any{
		"jobId":      job.ID,
		"workId":     job.WorkID,
		"roomId":     job.RoomID,
		"format":     string(job.Format),
		"title":      job.Title,
		"renderedAt": r.clock.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

type WorkerParams struct {
	fx.In

	DB       *gorm.DB
	Redis    *goredis.Client
	Cfg      config.Config
	Log      *zap.Logger
	Clock    clock.Clock
	Blob     blob.Store
	Renderer Renderer
	Bus      events.Bus `optional:"true"`
}

// Worker drains the export queue and walks each job through
// rendering, upload, and completion.
type Worker struct {
	db       *gorm.DB
	redis    *goredis.Client
	queue    string
	log      *zap.Logger
	clock    clock.Clock
	blob     blob.Store
	renderer Renderer
	bus      events.Bus

	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		db:       p.DB,
		redis:    p.Redis,
		queue:    p.Cfg.ExportQueueName,
		log:      p.Log.Named("export.worker"),
		clock:    p.Clock,
		blob:     p.Blob,
		renderer: p.Renderer,
		bus:      p.Bus,
	}
}

func (w *Worker) Start(context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		for {
			if runCtx.Err() != nil {
				return
			}
			result, err := w.redis.BRPop(runCtx, 2*time.Second, w.queue).Result()
			if err != nil {
				if errors.Is(err, goredis.Nil) || errors.Is(err, context.Canceled) {
					continue
				}
				w.log.Warn("queue pop failed", zap.Error(err))
				select {
				case <-runCtx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			// BRPop returns [queue, value].
			if len(result) == 2 {
				w.process(runCtx, result[1])
			}
		}
	}()
	return nil
}

func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (w *Worker) process(ctx context.Context, jobID string) {
	var job domain.Job
	if err := w.db.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		w.log.Warn("queued job missing", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if job.Status != domain.StatusQueued {
		w.log.Debug("skipping job not in queued state",
			zap.String("job_id", jobID),
			zap.String("status", string(job.Status)),
		)
		return
	}

	if err := w.run(ctx, &job); err != nil {
		message := err.Error()
		job.Status = domain.StatusFailed
		job.ErrorMessage = &message
		w.update(ctx, &job)
		w.log.Error("export job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	w.log.Info("export job complete",
		zap.String("job_id", job.ID),
		zap.String("file_key", *job.FileKey),
	)
}

func (w *Worker) run(ctx context.Context, job *domain.Job) error {
	job.Status = domain.StatusRendering
	job.Progress = 10
	w.update(ctx, job)

	data, contentType, err := w.renderer.Render(ctx, *job)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	job.Status = domain.StatusUploading
	job.Progress = 80
	w.update(ctx, job)

	title := job.Title
	if title == "" {
		title = job.WorkID
	}
	key := blob.ObjectKey("exports", job.ID, fmt.Sprintf("%s.%s", title, job.Format))
	location, err := w.blob.Put(ctx, key, contentType, data)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	job.Status = domain.StatusComplete
	job.Progress = 100
	job.FileKey = &key
	job.FileURL = &location
	job.ErrorMessage = nil
	w.update(ctx, job)
	return nil
}

// update persists the job state and then reports it on the bus. A failed
// save is logged but the pipeline keeps moving; the row is advisory, the
// artifact is the source of truth.
func (w *Worker) update(ctx context.Context, job *domain.Job) {
	job.UpdatedAt = w.clock.Now().UTC()
	if err := w.db.WithContext(ctx).Save(job).Error; err != nil {
		w.log.Warn("saving job state failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	publishProgress(ctx, w.bus, w.log, *job)
}
