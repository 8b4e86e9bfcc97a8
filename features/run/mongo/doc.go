// Package mongo provides a MongoDB-backed implementation of the workflow run
// store. Build the low-level client via features/run/mongo/clients/mongo and
// pass it to NewStore so orchestrators can persist executions and step records
// outside the core runtime.
package mongo
