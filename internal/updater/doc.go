// Package updater runs the periodic update check.
//
// The poll scheduler decides when a check is due; this package decides
// what a check does. With a command configured, CommandChecker runs it
// with a timeout and logs its output. Without one, LogChecker records
// that a check was due and does nothing else.
package updater
