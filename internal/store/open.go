package store

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Options selects and configures a backend.
type Options struct {
	Driver  string
	DSN     string
	DataDir string // memory backend snapshots; empty disables persistence
	Log     logrus.FieldLogger
}

// Open initializes the configured backend.
func Open(opts Options) (Store, error) {
	switch opts.Driver {
	case DriverMemory, "":
		if opts.DataDir == "" {
			return NewMemStore(nil, nil), nil
		}
		p, err := NewPersistence(opts.DataDir, opts.Log)
		if err != nil {
			return nil, err
		}
		snap, err := p.Load()
		if err != nil {
			return nil, err
		}
		return NewMemStore(snap, p), nil
	case DriverSQLite, DriverPostgres:
		s, err := OpenSQL(opts.Driver, opts.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
