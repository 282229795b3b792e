// Command dbsyncd is the two-way synchronization daemon between a project
// store project and a PostGIS database, ported from dbsync_daemon.py.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
