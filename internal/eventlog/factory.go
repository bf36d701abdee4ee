package eventlog

import (
	"fmt"
	"os"
)

// Driver identifies a concrete event-log implementation.
type Driver string

const (
	DriverMemory Driver = "memory" // in-memory only (tests / ephemeral)
	DriverFile   Driver = "file"   // fsynced segment file
	DriverSQLite Driver = "sqlite" // embedded sqlite table
)

// Open selects a backend using environment variables. Defaults to the file
// store when unset.
//
//	STITCHCORE_EVENTLOG_DRIVER: memory|file|sqlite (default file)
//	STITCHCORE_EVENTLOG_PATH: backing path (default ./stitchcore-events.log)
func Open() (Log, error) {
	driver := os.Getenv("STITCHCORE_EVENTLOG_DRIVER")
	if driver == "" {
		driver = string(DriverFile)
	}
	path := os.Getenv("STITCHCORE_EVENTLOG_PATH")
	switch Driver(driver) {
	case DriverMemory:
		return NewMemory(), nil
	case DriverFile:
		if path == "" {
			path = "stitchcore-events.log"
		}
		return OpenFile(path)
	case DriverSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown event log driver %s", driver)
	}
}
