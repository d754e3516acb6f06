// Package container provides dependency injection for all singleton services
package container

import (
	"time"

	"github.com/AmberSignal/pulsestat-go/internal/application/queue"
	"github.com/AmberSignal/pulsestat-go/internal/application/services"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/email"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/messaging"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/performance"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/persistence/database"
	persistence "github.com/AmberSignal/pulsestat-go/internal/infrastructure/persistence/telemetry"
	"github.com/AmberSignal/pulsestat-go/pkg/config"
)

// Container holds all singleton services and infrastructure dependencies
type Container struct {
	// Pipeline services
	IngestService *services.IngestService
	RollupService *services.RollupService
	StatsService  *services.StatsService
	AuthService   *services.AuthService

	// Infrastructure
	DB          *database.DB
	Writer      *queue.Writer
	Broadcaster *messaging.StatsBroadcaster
	AlertMailer email.Service // nil when alerts are not configured
	Logger      *logging.ChanneledLogger
	PerfTracker *performance.Tracker
	RollupLoc   *time.Location
	Heartbeats  *persistence.SQLHeartbeatRepository
	Rollups     *persistence.SQLRollupRepository
}

// NewContainer creates and wires all singleton services
func NewContainer(db *database.DB, loc *time.Location, jwtSecret string, logger *logging.ChanneledLogger) (*Container, error) {
	perfTracker := performance.NewTracker(10000)

	heartbeatRepo := persistence.NewSQLHeartbeatRepository(db, logger)
	rollupRepo := persistence.NewSQLRollupRepository(db, logger)

	writer := queue.NewWriter(heartbeatRepo, logger)

	authService, err := services.NewAuthService(jwtSecret, logger)
	if err != nil {
		return nil, err
	}

	var alertMailer email.Service
	if mailer, err := email.NewService(); err == nil {
		alertMailer = mailer
		logger.Startup().Info("Ban alert emails enabled", "to", config.AdminEmail)
	} else {
		logger.Startup().Info("Ban alert emails disabled", "reason", err.Error())
	}

	return &Container{
		IngestService: services.NewIngestService(writer, config.HeartbeatSalt, logger),
		RollupService: services.NewRollupService(heartbeatRepo, rollupRepo, loc, logger, perfTracker),
		StatsService:  services.NewStatsService(heartbeatRepo, rollupRepo, loc, logger),
		AuthService:   authService,

		DB:          db,
		Writer:      writer,
		Broadcaster: messaging.NewStatsBroadcaster(logger),
		AlertMailer: alertMailer,
		Logger:      logger,
		PerfTracker: perfTracker,
		RollupLoc:   loc,
		Heartbeats:  heartbeatRepo,
		Rollups:     rollupRepo,
	}, nil
}
