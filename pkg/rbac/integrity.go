package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/padron/pkg/observability"
)

// IntegrityReport lists hierarchy states the store should never reach
type IntegrityReport struct {
	Roles           int       `json:"roles"`
	DefaultRoles    int       `json:"default_roles"`
	CyclicRoles     []int64   `json:"cyclic_roles"`
	DanglingParents []int64   `json:"dangling_parents"`
	CheckedAt       time.Time `json:"checked_at"`
}

// Violations counts every finding in the report
func (r *IntegrityReport) Violations() int {
	n := len(r.CyclicRoles) + len(r.DanglingParents)
	if r.Roles > 0 && r.DefaultRoles != 1 {
		n++
	}
	return n
}

// IntegrityChecker periodically audits the role hierarchy
type IntegrityChecker struct {
	store    *Store
	logger   *observability.Logger
	metrics  *observability.Metrics
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
}

// NewIntegrityChecker creates a checker that runs on a cron schedule
func NewIntegrityChecker(store *Store, logger *observability.Logger, metrics *observability.Metrics, schedule string) *IntegrityChecker {
	return &IntegrityChecker{
		store:    store,
		logger:   logger,
		metrics:  metrics,
		schedule: schedule,
		timeout:  time.Minute,
	}
}

// Start schedules the check
func (c *IntegrityChecker) Start() error {
	c.cron = cron.New()
	_, err := c.cron.AddFunc(c.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		defer observability.RecoverPanic(c.logger, "hierarchy integrity check")

		if _, err := c.Check(ctx); err != nil {
			c.logger.WithError(err).Error("Hierarchy integrity check failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule integrity check %q: %w", c.schedule, err)
	}

	c.cron.Start()
	c.logger.WithField("schedule", c.schedule).Info("Hierarchy integrity checker started")
	return nil
}

// Stop waits for a running check to finish
func (c *IntegrityChecker) Stop() {
	if c.cron == nil {
		return
	}
	<-c.cron.Stop().Done()
}

// Check audits the hierarchy once and publishes the result
func (c *IntegrityChecker) Check(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{
		CyclicRoles:     make([]int64, 0),
		DanglingParents: make([]int64, 0),
		CheckedAt:       time.Now().UTC(),
	}

	var err error
	if report.Roles, err = c.store.CountRoles(ctx); err != nil {
		return nil, err
	}
	if err := c.store.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM roles WHERE is_default = TRUE`,
	).Scan(&report.DefaultRoles); err != nil {
		return nil, classify("count default roles", err)
	}

	rows, err := c.store.db.QueryContext(ctx, `
		SELECT r.id
		FROM roles r
		LEFT JOIN roles p ON r.parent_id = p.id
		WHERE r.parent_id IS NOT NULL AND p.id IS NULL
		ORDER BY r.id
	`)
	if err != nil {
		return nil, classify("find dangling parents", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, classify("scan dangling parent", err)
		}
		report.DanglingParents = append(report.DanglingParents, id)
	}
	rows.Close()

	roles, err := c.store.GetAllRoles(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		chain, err := c.store.Ancestry(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if len(chain) > MaxChainDepth {
			report.CyclicRoles = append(report.CyclicRoles, r.ID)
		}
	}

	c.metrics.SetHierarchyViolations(report.Violations())
	if report.Violations() > 0 {
		c.logger.WithFields(map[string]interface{}{
			"default_roles":    report.DefaultRoles,
			"cyclic_roles":     report.CyclicRoles,
			"dangling_parents": report.DanglingParents,
		}).Warn("Role hierarchy integrity violations found")
	} else {
		c.logger.WithField("roles", report.Roles).Debug("Role hierarchy is consistent")
	}
	return report, nil
}
