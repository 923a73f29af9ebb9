package services

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/sentinelmesh/fedagg/internal/core/ports"
	"github.com/sentinelmesh/fedagg/pkg/gologger"
)

// CleanupService periodically prunes old model versions down to the
// configured retention count.
type CleanupService struct {
	versions  ports.VersionStore
	scheduler *gocron.Scheduler
	mutex     sync.Mutex
	interval  time.Duration
	keepLastN int
	isRunning bool
	stopCh    chan struct{}
}

func NewCleanupService(versions ports.VersionStore, interval time.Duration, keepLastN int) *CleanupService {
	return &CleanupService{
		versions:  versions,
		interval:  interval,
		keepLastN: keepLastN,
		stopCh:    make(chan struct{}),
	}
}

func (s *CleanupService) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isRunning {
		return nil
	}

	log := gologger.WithComponent("cleanup_service")
	log.Info().
		Dur("interval", s.interval).
		Int("keep_last", s.keepLastN).
		Msg("Starting version cleanup service")

	s.scheduler = gocron.NewScheduler(time.UTC)
	s.stopCh = make(chan struct{})

	job, err := s.scheduler.Every(s.interval).Do(func() {
		select {
		case <-s.stopCh:
			return
		default:
			startTime := time.Now()
			if err := s.versions.CleanupOldVersions(context.Background(), s.keepLastN); err != nil {
				log.Error().Err(err).Msg("Version cleanup failed")
			} else {
				log.Debug().
					Dur("duration", time.Since(startTime)).
					Msg("Completed version cleanup")
			}
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to schedule version cleanup")
		return err
	}

	s.scheduler.StartAsync()
	s.isRunning = true

	log.Info().
		Str("next_run", job.NextRun().String()).
		Msg("Version cleanup service started")

	return nil
}

func (s *CleanupService) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isRunning {
		return
	}

	close(s.stopCh)

	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	s.isRunning = false

	log := gologger.WithComponent("cleanup_service")
	log.Info().Msg("Version cleanup service stopped")
}

func (s *CleanupService) IsRunning() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.isRunning
}
