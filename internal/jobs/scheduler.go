package jobs

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nordkyn/authcore/internal/otp"
)

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	otp  *otp.Service
}

// NewScheduler creates a new job scheduler
func NewScheduler(otpService *otp.Service) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		otp:  otpService,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	// Sweep expired one-time codes every 10 minutes
	s.cron.AddFunc("*/10 * * * *", func() {
		s.sweepExpiredCodes()
	})

	s.cron.Start()
	log.Println("Job scheduler started")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Job scheduler stopped")
}

// sweepExpiredCodes deletes one-time codes past their expiry. Safe to
// run concurrently with issuance and verification.
func (s *Scheduler) sweepExpiredCodes() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := s.otp.CleanupExpired(ctx)
	if err != nil {
		log.Printf("Failed to sweep expired codes: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("Swept %d expired one-time codes", deleted)
	}
}
