// Package stores provides the SQLite persistence layer for the provisioner.
//
// SQLiteStore keeps run history, the persisted event log, the sandbox
// resource inventory (resource groups, virtual networks, resources),
// deployment records and the audit trail. Schema changes are applied with
// golang-migrate from migrations embedded in the binary. File databases run
// in WAL mode; ":memory:" databases are limited to one connection.
//
// Lookups of resource groups, networks and resources return (nil, nil) when
// the row does not exist, matching the engine.Backend contract. Lookups by ID
// return an error wrapping ErrNotFound.
package stores
