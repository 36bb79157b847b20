package db

import (
	"context"

	"github.com/themobileprof/chatmanager/internal/dispatch"
	"github.com/themobileprof/chatmanager/internal/privacy"
)

// ArchiveAdapter adapts DB to implement dispatch.Archiver
type ArchiveAdapter struct {
	db *DB
}

var _ dispatch.Archiver = (*ArchiveAdapter)(nil)

// NewArchiveAdapter creates a new adapter
func NewArchiveAdapter(db *DB) *ArchiveAdapter {
	return &ArchiveAdapter{db: db}
}

// Archive implements dispatch.Archiver
func (a *ArchiveAdapter) Archive(ctx context.Context, rec dispatch.Record) error {
	e := &Exchange{
		Session:    rec.Session,
		Credential: rec.Credential,
		Request:    rec.Request,
		Response:   rec.Response,
		Latency:    rec.Latency,
	}
	if rec.Err != nil {
		msg := privacy.SanitizeForLogging(rec.Err.Error())
		e.Error = &msg
	}

	return a.db.SaveExchange(ctx, e)
}
