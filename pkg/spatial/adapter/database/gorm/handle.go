package gorm

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
)

// Handle is one backend session: a gorm.DB whose *sql.DB holds at most one
// open connection.
type Handle struct {
	id    string
	db    *gorm.DB
	sqlDB *sql.DB

	closeOnce sync.Once
	closeErr  error
}

// NewHandle wraps an opened gorm.DB. It does not change the connection
// limits of db; Open does that.
func NewHandle(db *gorm.DB) (*Handle, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return &Handle{id: uuid.NewString(), db: db, sqlDB: sqlDB}, nil
}

// ID implements database.Handle.
func (h *Handle) ID() string { return h.id }

// DB returns the gorm session.
func (h *Handle) DB() *gorm.DB { return h.db }

// SQLDB returns the underlying *sql.DB.
func (h *Handle) SQLDB() *sql.DB { return h.sqlDB }

// Close implements database.Handle. Repeated calls return the first result.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.sqlDB.Close()
	})
	return h.closeErr
}

var _ database.Handle = (*Handle)(nil)

// AsHandle unwraps a pool handle into a *Handle. Metadata sources use it to
// reach the gorm session.
func AsHandle(h database.Handle) (*Handle, error) {
	gh, ok := h.(*Handle)
	if !ok || gh == nil {
		return nil, fmt.Errorf("handle %T is not a gorm handle", h)
	}
	return gh, nil
}
