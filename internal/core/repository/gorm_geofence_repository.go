package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

var _ GeofenceRepository = (*GormGeofenceRepository)(nil)

// geofenceRecord is the gorm mapping of the geofences table. The geom column
// is generated from fence by the schema and never written here.
type geofenceRecord struct {
	ID            int64  `gorm:"primaryKey"`
	ESN           string `gorm:"column:esn;type:text;not null;index"`
	Fence         string `gorm:"type:text;not null"`
	Meta          string `gorm:"type:text;not null;default:''"`
	IsSingleAlert bool   `gorm:"not null;default:false"`
	NumAlertsSent int    `gorm:"not null;default:0"`
	AlertType     string `gorm:"type:text;not null;default:'both'"`
	WebhookURL    string `gorm:"column:webhook_url;type:text;not null"`
	CreatedBy     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}

func (geofenceRecord) TableName() string { return "geofences" }

func toGeofenceRecord(g *model.Geofence) *geofenceRecord {
	return &geofenceRecord{
		ID:            g.ID,
		ESN:           g.ESN,
		Fence:         g.Fence,
		Meta:          g.Meta,
		IsSingleAlert: g.IsSingleAlert,
		NumAlertsSent: g.NumAlertsSent,
		AlertType:     string(g.AlertType),
		WebhookURL:    g.WebhookURL,
		CreatedBy:     g.CreatedBy,
	}
}

func (r *geofenceRecord) toModel() model.Geofence {
	g := model.Geofence{
		ID:            r.ID,
		ESN:           r.ESN,
		Fence:         r.Fence,
		Meta:          r.Meta,
		IsSingleAlert: r.IsSingleAlert,
		NumAlertsSent: r.NumAlertsSent,
		AlertType:     model.AlertType(r.AlertType),
		WebhookURL:    r.WebhookURL,
		CreatedBy:     r.CreatedBy,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time.UTC()
		g.DeletedAt = &t
	}
	return g
}

type GormGeofenceRepository struct {
	db *gorm.DB
}

func NewGormGeofenceRepository(db *gorm.DB) *GormGeofenceRepository {
	return &GormGeofenceRepository{db: db}
}

func (r *GormGeofenceRepository) Create(ctx context.Context, fence *model.Geofence) error {
	rec := toGeofenceRecord(fence)
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return err
	}
	*fence = rec.toModel()
	return nil
}

// FindByID includes soft deleted fences so their history stays reachable.
func (r *GormGeofenceRepository) FindByID(ctx context.Context, id int64) (*model.Geofence, error) {
	var rec geofenceRecord
	err := r.db.WithContext(ctx).Unscoped().First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g := rec.toModel()
	return &g, nil
}

func (r *GormGeofenceRepository) FindByESN(ctx context.Context, esn string) ([]model.Geofence, error) {
	var recs []geofenceRecord
	if err := r.db.WithContext(ctx).Where("esn = ?", esn).Order("id").Find(&recs).Error; err != nil {
		return nil, err
	}
	fences := make([]model.Geofence, 0, len(recs))
	for i := range recs {
		fences = append(fences, recs[i].toModel())
	}
	return fences, nil
}

func (r *GormGeofenceRepository) Delete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&geofenceRecord{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormGeofenceRepository) IncrementAlertsSent(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&geofenceRecord{}).
		Where("id = ?", id).
		UpdateColumn("num_alerts_sent", gorm.Expr("num_alerts_sent + ?", 1)).Error
}

func (r *GormGeofenceRepository) Contains(ctx context.Context, geofenceID int64, lat, lng float64) (bool, error) {
	var inside []bool
	err := r.db.WithContext(ctx).
		Raw(`SELECT ST_Contains(geom, ST_SetSRID(ST_MakePoint(?, ?), 4326)) FROM geofences WHERE id = ?`, lng, lat, geofenceID).
		Scan(&inside).Error
	if err != nil {
		return false, err
	}
	if len(inside) == 0 {
		return false, ErrNotFound
	}
	return inside[0], nil
}
