package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/netmetering/internal/reading/domain"
	"github.com/smallbiznis/netmetering/pkg/db/option"
	"github.com/smallbiznis/netmetering/pkg/repository"
	"gorm.io/gorm"
)

var sortable = map[string]bool{"recorded_at": true, "id": true}

type repo struct {
	store repository.Repository[domain.MeterReading]
}

func Provide(db *gorm.DB) domain.Repository {
	return &repo{store: repository.ProvideStore[domain.MeterReading](db)}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, reading *domain.MeterReading) error {
	return r.store.WithTrx(db).Create(ctx, reading)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.MeterReading, error) {
	return r.store.WithTrx(db).FindOne(ctx, &domain.MeterReading{ID: id})
}

func (r *repo) FindMany(ctx context.Context, db *gorm.DB, filter domain.Filter) ([]*domain.MeterReading, error) {
	query := &domain.MeterReading{CustomerID: filter.CustomerID, Status: filter.Status}
	opts := []option.QueryOption{}
	if filter.Month > 0 {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "month", Operator: option.EQ, Value: filter.Month}))
	}
	if filter.Year > 0 {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "year", Operator: option.EQ, Value: filter.Year}))
	}
	opts = append(opts,
		option.WithSortBy(option.QuerySortBy{Allow: sortable, Fields: []string{"recorded_at", "id"}, Desc: !filter.Oldest}),
		option.WithLimit(filter.Limit),
	)
	return r.store.WithTrx(db).Find(ctx, query, opts...)
}

// MarkVerified flips a pending reading to verified. It reports false when the row was not pending.
func (r *repo) MarkVerified(ctx context.Context, db *gorm.DB, id snowflake.ID, month, year int, netUnits float64) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.MeterReading{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":    domain.StatusVerified,
			"month":     month,
			"year":      year,
			"net_units": netUnits,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type summaryRow struct {
	Count          int64   `gorm:"column:reading_count"`
	PendingCount   int64   `gorm:"column:pending_count"`
	VerifiedCount  int64   `gorm:"column:verified_count"`
	TotalGenerated float64 `gorm:"column:total_generated"`
	TotalExported  float64 `gorm:"column:total_exported"`
	TotalImported  float64 `gorm:"column:total_imported"`
}

func (r *repo) Summarize(ctx context.Context, db *gorm.DB, customerID string) (domain.Summary, error) {
	stmt := db.WithContext(ctx).Model(&domain.MeterReading{})
	if customerID != "" {
		stmt = stmt.Where("customer_id = ?", customerID)
	}
	stmt = stmt.Session(&gorm.Session{})

	var row summaryRow
	err := stmt.Select(
		"COUNT(*) AS reading_count, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending_count, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS verified_count, "+
			"COALESCE(SUM(kwh_generated), 0) AS total_generated, "+
			"COALESCE(SUM(kwh_exported), 0) AS total_exported, "+
			"COALESCE(SUM(kwh_imported), 0) AS total_imported",
		domain.StatusPending, domain.StatusVerified,
	).Scan(&row).Error
	if err != nil {
		return domain.Summary{}, err
	}

	summary := domain.Summary{
		Count:             row.Count,
		PendingCount:      row.PendingCount,
		VerifiedCount:     row.VerifiedCount,
		TotalKWhGenerated: row.TotalGenerated,
		TotalKWhExported:  row.TotalExported,
		TotalKWhImported:  row.TotalImported,
	}
	if row.Count == 0 {
		return summary, nil
	}

	var latest domain.MeterReading
	err = stmt.Select("recorded_at").Order("recorded_at desc").Limit(1).Take(&latest).Error
	if err != nil {
		return domain.Summary{}, err
	}
	last := latest.Timestamp.In(time.UTC)
	summary.LastReadingAt = &last
	return summary, nil
}
