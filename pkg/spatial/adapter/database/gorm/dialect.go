// Package gorm opens pool handles through GORM and resolves the metadata
// source for each dialect. Dialect packages register themselves in init().
package gorm

import (
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/tigerroll/spatialpool/pkg/spatial/adapter/database"
	dbconfig "github.com/tigerroll/spatialpool/pkg/spatial/adapter/database/config"
	"github.com/tigerroll/spatialpool/pkg/spatial/support/util/logger"
)

// DialectorFactory generates a gorm.Dialector from a dbconfig.ConnectionConfig.
type DialectorFactory func(cfg dbconfig.ConnectionConfig) (gorm.Dialector, error)

// SourceFactory builds the metadata source for a config of the dialect.
type SourceFactory func(cfg dbconfig.ConnectionConfig) database.MetadataSource

// Dialect bundles what the adapter needs to know about one backend type.
type Dialect struct {
	Dialector DialectorFactory
	Source    SourceFactory
}

var (
	dialectRegistry = make(map[string]Dialect)
	dialectMutex    sync.RWMutex
)

// RegisterDialect registers d for the given database type.
func RegisterDialect(dbType string, d Dialect) {
	dialectMutex.Lock()
	defer dialectMutex.Unlock()
	if _, exists := dialectRegistry[dbType]; exists {
		logger.Warnf("Dialect for type '%s' already registered. Overwriting.", dbType)
	}
	dialectRegistry[dbType] = d
}

// GetDialect retrieves the Dialect registered for dbType.
func GetDialect(dbType string) (Dialect, error) {
	dialectMutex.RLock()
	defer dialectMutex.RUnlock()
	d, ok := dialectRegistry[dbType]
	if !ok {
		return Dialect{}, fmt.Errorf("no dialect registered for database type: %s", dbType)
	}
	return d, nil
}

// RegisteredDialects returns the registered database types, sorted.
func RegisteredDialects() []string {
	dialectMutex.RLock()
	defer dialectMutex.RUnlock()
	out := make([]string, 0, len(dialectRegistry))
	for t := range dialectRegistry {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
