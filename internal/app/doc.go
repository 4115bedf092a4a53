// Package app provides the session lifecycle service.
//
// Start, load, close and delete each run a fixed sequence of steps across the
// catalog, the provisioner and the router, then announce the change. The steps
// span two databases and a DDL boundary, so they are not atomic: a failure
// after provisioning leaves the new database behind for an operator to remove
// (see sessionctl orphans). Nothing is compensated or retried here.
package app
