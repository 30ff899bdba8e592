package storage

// ObjectStore is the opaque blob interface the coordinator and agents use
// for backups and snapshots. Keys follow the platform conventions, e.g.
// latest/<container>/latest.tar.gz for hot backups.
type ObjectStore interface {
	// Upload copies a local file to the store under remoteKey.
	Upload(localPath, remoteKey string) error
	// Download copies the object at remoteKey to localPath, creating parent
	// directories as needed.
	Download(remoteKey, localPath string) error
	// Remove deletes the object at remoteKey. Removing a missing object is
	// not an error.
	Remove(remoteKey string) error
}
