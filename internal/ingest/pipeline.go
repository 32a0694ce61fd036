package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"streamhub/internal/assets"
	"streamhub/internal/models"
	"streamhub/internal/observability/logging"
	"streamhub/internal/observability/metrics"
	"streamhub/internal/storage"
	"streamhub/internal/transcode"
)

const (
	videoPrefix     = "videos"
	thumbnailPrefix = "thumbnails"
	workDirPrefix   = "ingest-"

	compensationTimeout = 30 * time.Second
)

// Catalog is the slice of storage.Repository the pipeline writes to.
type Catalog interface {
	CreateVideo(ctx context.Context, params storage.CreateVideoParams) (models.Video, error)
}

// Deps wires the pipeline collaborators. Transcoder, Assets and Catalog are
// required.
type Deps struct {
	Transcoder transcode.Transcoder
	Assets     assets.Store
	Catalog    Catalog
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
	Tracer     trace.Tracer
}

type Pipeline struct {
	cfg        Config
	transcoder transcode.Transcoder
	assets     assets.Store
	catalog    Catalog
	logger     *slog.Logger
	metrics    *metrics.Recorder
	tracer     trace.Tracer
	slots      *semaphore.Weighted
	newID      func() string
}

func NewPipeline(cfg Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Transcoder == nil {
		return nil, errors.New("transcoder is required")
	}
	if deps.Assets == nil {
		return nil, errors.New("asset store is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("streamhub/internal/ingest")
	}
	return &Pipeline{
		cfg:        cfg,
		transcoder: deps.Transcoder,
		assets:     deps.Assets,
		catalog:    deps.Catalog,
		logger:     logging.WithComponent(logger, "ingest"),
		metrics:    metrics.Or(deps.Metrics),
		tracer:     tracer,
		slots:      semaphore.NewWeighted(int64(cfg.MaxConcurrentTranscodes)),
		newID:      uuid.NewString,
	}, nil
}

// Ingest transcodes req.Video to HLS, publishes the segments, manifest and
// thumbnail to the asset store and records the resulting Video. The spooled
// source files are removed before Ingest returns, whatever the outcome.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (video models.Video, err error) {
	defer func() {
		if cleanupErr := req.Cleanup(); cleanupErr != nil {
			p.logger.Warn("failed to remove spooled upload", "error", cleanupErr)
		}
	}()

	req, err = req.normalize()
	if err != nil {
		p.metrics.ObserveIngest("invalid")
		return models.Video{}, err
	}

	id := p.newID()
	logger := logging.WithContext(ctx, p.logger).With("ingest_id", id, "creator_id", req.Creator.ID)

	ctx, span := p.tracer.Start(ctx, "ingest", trace.WithAttributes(
		attribute.String("ingest.id", id),
		attribute.String("ingest.creator_id", req.Creator.ID),
		attribute.Int64("ingest.source_bytes", req.Video.Size),
	))
	done := p.metrics.IngestStarted()
	started := time.Now()
	defer func() {
		done()
		finishSpan(span, err)
		span.End()
		if err != nil {
			p.metrics.ObserveIngest("error")
			logger.Error("ingest failed", "error", err, "duration_ms", time.Since(started).Milliseconds())
			return
		}
		p.metrics.ObserveIngest("success")
		logger.Info("ingest complete", "video_id", video.ID, "segments_url", video.VideoURL, "duration_ms", time.Since(started).Milliseconds())
	}()

	workDir := filepath.Join(p.cfg.WorkDir, workDirPrefix+id)
	defer func() {
		if removeErr := os.RemoveAll(workDir); removeErr != nil {
			logger.Warn("failed to remove working directory", "dir", workDir, "error", removeErr)
		}
	}()

	var set transcode.SegmentSet
	err = p.stage(ctx, "transcode", func(ctx context.Context) error {
		var transcodeErr error
		set, transcodeErr = p.transcode(ctx, req.Video.Path, workDir)
		return transcodeErr
	})
	if err != nil {
		return models.Video{}, fmt.Errorf("%w: %w", ErrTranscode, err)
	}

	published := newPublication()
	err = p.stage(ctx, "publish", func(ctx context.Context) error {
		return p.publishSegments(ctx, id, set, published)
	})
	if err != nil {
		p.compensate(ctx, logger, published)
		return models.Video{}, fmt.Errorf("%w: %w", ErrUpload, err)
	}

	err = p.stage(ctx, "thumbnail", func(ctx context.Context) error {
		return p.publishThumbnail(ctx, id, req.Thumbnail, published)
	})
	if err != nil {
		p.compensate(ctx, logger, published)
		return models.Video{}, fmt.Errorf("%w: %w", ErrUpload, err)
	}

	manifest, ok := published.find(func(object assets.Object) bool {
		return strings.HasSuffix(object.Key, ".m3u8")
	})
	if !ok {
		p.compensate(ctx, logger, published)
		return models.Video{}, fmt.Errorf("%w: no manifest among published objects", ErrUpload)
	}
	thumbnail, _ := published.find(func(object assets.Object) bool {
		return strings.Contains(object.Key, thumbnailPrefix+"/")
	})

	err = p.stage(ctx, "catalog", func(ctx context.Context) error {
		var createErr error
		video, createErr = p.catalog.CreateVideo(ctx, storage.CreateVideoParams{
			Title:        req.Title,
			Description:  req.Description,
			VideoURL:     manifest.URL,
			ThumbnailURL: thumbnail.URL,
			CreatorID:    req.Creator.ID,
		})
		return createErr
	})
	if err != nil {
		p.compensate(ctx, logger, published)
		return models.Video{}, fmt.Errorf("%w: %w", ErrCatalog, err)
	}
	if video.Creator == nil {
		creator := req.Creator.Profile()
		video.Creator = &creator
	}
	return video, nil
}

func (p *Pipeline) transcode(ctx context.Context, input, workDir string) (transcode.SegmentSet, error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return transcode.SegmentSet{}, err
	}
	defer p.slots.Release(1)

	if p.cfg.TranscodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TranscodeTimeout)
		defer cancel()
	}
	return p.transcoder.Transcode(ctx, input, workDir)
}

func (p *Pipeline) publishThumbnail(ctx context.Context, id string, thumb *MediaAsset, published *publication) error {
	key := path.Join(thumbnailPrefix, id+thumb.Ext())
	contentType := strings.TrimSpace(thumb.ContentType)
	if contentType == "" {
		contentType = assets.ContentTypeFor(key)
	}
	object, err := putFile(ctx, p.assets, key, contentType, thumb.Path)
	if err != nil {
		return fmt.Errorf("thumbnail: %w", err)
	}
	published.add(object)
	return nil
}

// compensate deletes every object stored during the run. It uses a detached
// context so a cancelled request still cleans up.
func (p *Pipeline) compensate(ctx context.Context, logger *slog.Logger, published *publication) {
	objects := published.objects()
	if len(objects) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	failed := 0
	for _, object := range objects {
		if err := p.assets.Delete(ctx, object.Key); err != nil {
			failed++
			logger.Error("failed to delete orphaned object", "key", object.Key, "error", err)
		}
	}
	logger.Warn("removed published objects after failure", "objects", len(objects), "failed", failed)
}

// stage runs fn inside its own span and records its duration.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "ingest."+name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	p.metrics.ObserveIngestStage(name, outcome, time.Since(start))
	finishSpan(span, err)
	return err
}

func finishSpan(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
